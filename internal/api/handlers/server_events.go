package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stockpulse.io/stockpulse/internal/api/middleware"
	"stockpulse.io/stockpulse/internal/domain"
	apperrors "stockpulse.io/stockpulse/internal/pkg/errors"
	"stockpulse.io/stockpulse/internal/pkg/logger"
)

// EnqueueEvents handles POST /events.
func (s *Server) EnqueueEvents(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeValidationFailed, "failed to read body", http.StatusBadRequest))
		return
	}
	reqs, err := decodeEvents(body)
	if err != nil {
		_ = c.Error(err)
		return
	}

	evs := make([]domain.RawEvent, 0, len(reqs))
	for i, r := range reqs {
		ev, err := r.toDomain(i)
		if err != nil {
			_ = c.Error(err)
			return
		}
		evs = append(evs, ev)
	}

	ctx := c.Request.Context()
	n, err := s.events.Enqueue(ctx, evs)
	if err != nil {
		_ = c.Error(err)
		return
	}
	logger.Debug("Events enqueued",
		zap.String("request_id", middleware.GetRequestID(ctx)),
		zap.String("producer", middleware.GetSubject(ctx)),
		zap.Int("count", n),
	)
	c.JSON(http.StatusAccepted, gin.H{"enqueued": n})
}

// GetQueueStats handles GET /queue/stats.
func (s *Server) GetQueueStats(c *gin.Context) {
	st, err := s.events.QueueStats(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// GetBackpressure handles GET /queue/backpressure.
func (s *Server) GetBackpressure(c *gin.Context) {
	ageSecs, err := queryInt(c.Query("max_age_seconds"), "max_age_seconds", int(s.maxAge/time.Second))
	if err != nil || ageSecs <= 0 {
		_ = c.Error(apperrors.ErrInvalidRequestFieldf("max_age_seconds"))
		return
	}
	size, err := queryInt(c.Query("max_queue_size"), "max_queue_size", int(s.maxSize))
	if err != nil || size <= 0 {
		_ = c.Error(apperrors.ErrInvalidRequestFieldf("max_queue_size"))
		return
	}

	res, err := s.events.Backpressure(c.Request.Context(), time.Duration(ageSecs)*time.Second, int64(size))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}
