package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// PaperProvider serves the student view of a test and manages its cache.
type PaperProvider interface {
	StudentPaper(ctx context.Context, testID uuid.UUID) (*model.PaperPayload, error)
	Invalidate(ctx context.Context, testID uuid.UUID) error
	Warm(ctx context.Context, testID uuid.UUID) error
}

type PaperHandler struct {
	papers PaperProvider
	log    zerolog.Logger
}

func NewPaperHandler(papers PaperProvider, log zerolog.Logger) *PaperHandler {
	return &PaperHandler{papers: papers, log: log.With().Str("component", "paper_handler").Logger()}
}

// GetPaper godoc
// GET /api/v1/student/tests/:test_id/paper
// Returns the question views and duration. The answer key is never included.
func (h *PaperHandler) GetPaper(c *gin.Context) {
	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	paper, err := h.papers.StudentPaper(c.Request.Context(), testID)
	if err != nil {
		status, code := errorCode(err)
		if !errors.Is(err, proctor.ErrPaperUnavailable) {
			h.log.Error().Err(err).Str("test_id", testID.String()).Msg("Failed to load paper")
		}
		response.Fail(c, status, code)
		return
	}
	response.Success(c, http.StatusOK, paper)
}

// RefreshPaper godoc
// POST /api/v1/admin/tests/:test_id/paper/refresh
// Drops the cached paper and loads it again from the database.
func (h *PaperHandler) RefreshPaper(c *gin.Context) {
	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ctx := c.Request.Context()
	if err := h.papers.Invalidate(ctx, testID); err != nil {
		h.log.Error().Err(err).Str("test_id", testID.String()).Msg("Failed to invalidate paper cache")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if err := h.papers.Warm(ctx, testID); err != nil {
		status, code := errorCode(err)
		response.Fail(c, status, code)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"test_id": testID, "refreshed": true})
}
