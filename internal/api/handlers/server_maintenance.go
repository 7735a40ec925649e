package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"stockpulse.io/stockpulse/internal/domain"
	apperrors "stockpulse.io/stockpulse/internal/pkg/errors"
)

// ListPartitions handles GET /partitions.
func (s *Server) ListPartitions(c *gin.Context) {
	parts, err := s.maintenance.ListPartitions(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": parts, "count": len(parts)})
}

// GetRollingStats handles GET /rolling-stats/:product_id/:warehouse_id.
func (s *Server) GetRollingStats(c *gin.Context) {
	productID, err := pathID(c.Param("product_id"), "product_id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	warehouseID, err := pathID(c.Param("warehouse_id"), "warehouse_id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	window, err := queryInt(c.Query("window"), "window", 30)
	if err != nil {
		_ = c.Error(err)
		return
	}
	rt := domain.RecordType(c.DefaultQuery("record_type", string(domain.RecordSale)))

	st, err := s.maintenance.RollingStats(c.Request.Context(), productID, warehouseID, rt, window)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// RunProcessor handles POST /admin/process.
func (s *Server) RunProcessor(c *gin.Context) {
	res, err := s.processor.Run(c.Request.Context())
	if err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeProcessorRunFailed, "processor run stopped: "+res.StopReason, http.StatusServiceUnavailable).
			WithParams(map[string]interface{}{"batches": res.Batches, "consumed": res.Consumed}))
		return
	}
	c.JSON(http.StatusOK, res)
}

// RunRetention handles POST /admin/retention.
func (s *Server) RunRetention(c *gin.Context) {
	res, err := s.maintenance.RetentionSweep(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}
