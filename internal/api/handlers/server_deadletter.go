package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"stockpulse.io/stockpulse/internal/domain"
	apperrors "stockpulse.io/stockpulse/internal/pkg/errors"
	"stockpulse.io/stockpulse/internal/service"
)

// ListDeadLetters handles GET /dead-letters.
func (s *Server) ListDeadLetters(c *gin.Context) {
	limit, err := queryInt(c.Query("limit"), "limit", 0)
	if err != nil {
		_ = c.Error(err)
		return
	}
	offset, err := queryInt(c.Query("offset"), "offset", 0)
	if err != nil {
		_ = c.Error(err)
		return
	}
	filter := domain.DeadLetterFilter{
		Kind:   apperrors.Kind(c.Query("kind")),
		State:  domain.DeadLetterState(c.Query("state")),
		Limit:  limit,
		Offset: offset,
	}

	entries, err := s.deadLetters.List(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if entries == nil {
		entries = []domain.DeadLetterEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"items": entries, "count": len(entries)})
}

// GetDeadLetter handles GET /dead-letters/:id.
func (s *Server) GetDeadLetter(c *gin.Context) {
	e, err := s.deadLetters.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// GetDeadLetterStats handles GET /dead-letters/stats.
func (s *Server) GetDeadLetterStats(c *gin.Context) {
	st, err := s.deadLetters.Stats(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": st.Total(), "by_kind": st})
}

// ReprocessDeadLetters handles POST /dead-letters/reprocess.
func (s *Server) ReprocessDeadLetters(c *gin.Context) {
	s.deadLetterAction(c, s.deadLetters.Reprocess)
}

// DiscardDeadLetters handles POST /dead-letters/discard.
func (s *Server) DiscardDeadLetters(c *gin.Context) {
	s.deadLetterAction(c, s.deadLetters.Discard)
}

// ResolveDeadLetters handles POST /dead-letters/resolve.
func (s *Server) ResolveDeadLetters(c *gin.Context) {
	s.deadLetterAction(c, s.deadLetters.MarkResolved)
}

func (s *Server) deadLetterAction(c *gin.Context, action func(context.Context, []string) (service.ActionResult, error)) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeInvalidRequestField, "request contains invalid field: ids", http.StatusBadRequest).
			WithParams(map[string]interface{}{"field": "ids"}))
		return
	}
	res, err := action(c.Request.Context(), req.IDs)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}
