package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/presgrade-backend/internal/domain"
	"github.com/yungbote/presgrade-backend/internal/platform/logger"
	"github.com/yungbote/presgrade-backend/internal/retrieval"
	"github.com/yungbote/presgrade-backend/internal/store"
)

type BundleHandler struct {
	log    *logger.Logger
	engine *retrieval.Engine
}

func NewBundleHandler(log *logger.Logger, engine *retrieval.Engine) *BundleHandler {
	return &BundleHandler{
		log:    log.With("handler", "BundleHandler"),
		engine: engine,
	}
}

type createBundleRequest struct {
	CourseID      string                  `json:"course_id"`
	CourseSummary string                  `json:"course_summary"`
	Documents     []domain.BundleDocument `json:"documents" binding:"required"`
}

// POST /api/bundles
// Stores the course material bundle and indexes it in the same call; the
// bundle id is only useful once its chunks are embedded.
func (h *BundleHandler) CreateBundle(c *gin.Context) {
	if h.engine == nil {
		RespondError(c, http.StatusServiceUnavailable, "retrieval_not_configured", fmt.Errorf("retrieval engine not configured"))
		return
	}
	var req createBundleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	ctx := c.Request.Context()
	b, err := h.engine.SaveBundle(ctx, &domain.ContextBundle{
		CourseID:      req.CourseID,
		CourseSummary: req.CourseSummary,
		Documents:     req.Documents,
	})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "bundle_create_failed", err)
		return
	}
	chunks, err := h.engine.IndexBundle(ctx, b.ID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "bundle_index_failed", err)
		return
	}
	RespondOK(c, gin.H{"bundle": b, "chunks_indexed": chunks})
}

// GET /api/bundles/:id
func (h *BundleHandler) GetBundle(c *gin.Context) {
	if h.engine == nil {
		RespondError(c, http.StatusServiceUnavailable, "retrieval_not_configured", fmt.Errorf("retrieval engine not configured"))
		return
	}
	b, err := h.engine.GetBundle(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		RespondError(c, http.StatusNotFound, "bundle_not_found", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "bundle_get_failed", err)
		return
	}
	RespondOK(c, gin.H{"bundle": b})
}

// POST /api/bundles/:id/reindex
// Rechunks and re-embeds the bundle's documents. The chunk set is swapped
// atomically, so in-flight retrievals keep a complete generation.
func (h *BundleHandler) ReindexBundle(c *gin.Context) {
	if h.engine == nil {
		RespondError(c, http.StatusServiceUnavailable, "retrieval_not_configured", fmt.Errorf("retrieval engine not configured"))
		return
	}
	chunks, err := h.engine.IndexBundle(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		RespondError(c, http.StatusNotFound, "bundle_not_found", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "bundle_index_failed", err)
		return
	}
	RespondOK(c, gin.H{"chunks_indexed": chunks})
}
