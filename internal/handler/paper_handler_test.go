package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

type stubPapers struct {
	payload     *model.PaperPayload
	err         error
	invalidated []uuid.UUID
	warmed      []uuid.UUID
}

func (s *stubPapers) StudentPaper(context.Context, uuid.UUID) (*model.PaperPayload, error) {
	return s.payload, s.err
}

func (s *stubPapers) Invalidate(_ context.Context, testID uuid.UUID) error {
	s.invalidated = append(s.invalidated, testID)
	return nil
}

func (s *stubPapers) Warm(_ context.Context, testID uuid.UUID) error {
	s.warmed = append(s.warmed, testID)
	return s.err
}

func paperRouter(papers *stubPapers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewPaperHandler(papers, zerolog.Nop())
	r := gin.New()
	r.GET("/tests/:test_id/paper", h.GetPaper)
	r.POST("/tests/:test_id/paper/refresh", h.RefreshPaper)
	return r
}

func TestGetPaper(t *testing.T) {
	testID := uuid.New()
	papers := &stubPapers{payload: &model.PaperPayload{TestID: testID, Title: "Biology", DurationSeconds: 60}}
	r := paperRouter(papers)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tests/"+testID.String()+"/paper", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data model.PaperPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "Biology", body.Data.Title)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tests/nope/paper", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPaperUnavailable(t *testing.T) {
	papers := &stubPapers{err: fmt.Errorf("%w: test has no questions", proctor.ErrPaperUnavailable)}
	r := paperRouter(papers)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tests/"+uuid.NewString()+"/paper", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "PAPER_UNAVAILABLE")
}

func TestRefreshPaper(t *testing.T) {
	testID := uuid.New()
	papers := &stubPapers{}
	r := paperRouter(papers)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/tests/"+testID.String()+"/paper/refresh", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []uuid.UUID{testID}, papers.invalidated)
	require.Equal(t, []uuid.UUID{testID}, papers.warmed)
}
