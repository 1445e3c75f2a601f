package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/presgrade-backend/internal/domain"
	"github.com/yungbote/presgrade-backend/internal/orchestrator"
	"github.com/yungbote/presgrade-backend/internal/platform/logger"
	"github.com/yungbote/presgrade-backend/internal/reconcile"
	"github.com/yungbote/presgrade-backend/internal/repos"
	"github.com/yungbote/presgrade-backend/internal/store"
)

type BatchHandler struct {
	log        *logger.Logger
	repo       *repos.Repo
	reconciler *reconcile.Reconciler
	orch       *orchestrator.Orchestrator
}

func NewBatchHandler(log *logger.Logger, repo *repos.Repo, rec *reconcile.Reconciler, orch *orchestrator.Orchestrator) *BatchHandler {
	return &BatchHandler{
		log:        log.With("handler", "BatchHandler"),
		repo:       repo,
		reconciler: rec,
		orch:       orch,
	}
}

type createBatchRequest struct {
	Name                string         `json:"name" binding:"required"`
	CourseID            string         `json:"course_id"`
	AssignmentID        string         `json:"assignment_id"`
	RubricText          string         `json:"rubric_text"`
	Rubric              *domain.Rubric `json:"rubric"`
	BundleVersionID     string         `json:"bundle_version_id"`
	ExpectedUploadCount *int           `json:"expected_upload_count"`
}

// POST /api/batches
func (h *BatchHandler) CreateBatch(c *gin.Context) {
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	b, err := h.repo.CreateBatch(c.Request.Context(), &domain.Batch{
		Name:                req.Name,
		CourseID:            req.CourseID,
		AssignmentID:        req.AssignmentID,
		RubricText:          req.RubricText,
		Rubric:              req.Rubric,
		BundleVersionID:     req.BundleVersionID,
		ExpectedUploadCount: req.ExpectedUploadCount,
	})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "batch_create_failed", err)
		return
	}
	RespondOK(c, gin.H{"batch": b})
}

// GET /api/batches
// Runs orphan recovery per batch and re-reads the record afterwards, so the
// listing reflects the repair it just performed.
func (h *BatchHandler) ListBatches(c *gin.Context) {
	ctx := c.Request.Context()
	batches, err := h.repo.ListBatches(ctx)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "batch_list_failed", err)
		return
	}
	for i, b := range batches {
		if _, err := h.reconciler.RecoverOrphans(ctx, b.ID); err != nil {
			h.log.Warn("Orphan recovery during listing failed", "batch_id", b.ID, "error", err)
			continue
		}
		if fresh, err := h.repo.GetBatch(ctx, b.ID); err == nil {
			batches[i] = fresh
		}
	}
	RespondOK(c, gin.H{"batches": batches})
}

// GET /api/batches/:id
func (h *BatchHandler) GetBatch(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if _, err := h.reconciler.RecoverOrphans(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.log.Warn("Orphan recovery failed", "batch_id", id, "error", err)
	}

	b, err := h.repo.GetBatch(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		RespondError(c, http.StatusNotFound, "batch_not_found", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "batch_get_failed", err)
		return
	}
	subs, err := h.repo.GetBatchSubmissions(ctx, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "submission_list_failed", err)
		return
	}
	RespondOK(c, gin.H{"batch": b, "submissions": subs})
}

// POST /api/batches/:id/refresh
// Force a recompute of the aggregate projections.
func (h *BatchHandler) RefreshBatch(c *gin.Context) {
	b, err := h.repo.UpdateBatchStats(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		RespondError(c, http.StatusNotFound, "batch_not_found", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "batch_refresh_failed", err)
		return
	}
	RespondOK(c, gin.H{"batch": b})
}

// POST /api/batches/:id/archive
func (h *BatchHandler) ArchiveBatch(c *gin.Context) {
	ctx := c.Request.Context()
	b, err := h.repo.GetBatch(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		RespondError(c, http.StatusNotFound, "batch_not_found", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "batch_get_failed", err)
		return
	}
	b.Status = domain.BatchStatusArchived
	if err := h.repo.SaveBatch(ctx, b); err != nil {
		RespondError(c, http.StatusInternalServerError, "batch_archive_failed", err)
		return
	}
	RespondOK(c, gin.H{"batch": b})
}

// DELETE /api/batches/:id
func (h *BatchHandler) DeleteBatch(c *gin.Context) {
	err := h.repo.DeleteBatch(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		RespondError(c, http.StatusNotFound, "batch_not_found", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "batch_delete_failed", err)
		return
	}
	RespondOK(c, gin.H{"deleted": true})
}

// POST /api/batches/:id/process
// Drains the queue for this batch synchronously. Orphan recovery runs first
// inside ProcessBatch so recovered submissions are graded in the same call.
func (h *BatchHandler) ProcessBatch(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	subs, err := h.orch.ProcessBatch(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		RespondError(c, http.StatusNotFound, "batch_not_found", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "batch_process_failed", err)
		return
	}
	b, err := h.repo.GetBatch(ctx, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "batch_get_failed", err)
		return
	}
	RespondOK(c, gin.H{"batch": b, "processed": subs})
}
