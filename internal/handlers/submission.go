package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/presgrade-backend/internal/clients/gcp"
	"github.com/yungbote/presgrade-backend/internal/domain"
	"github.com/yungbote/presgrade-backend/internal/platform/logger"
	"github.com/yungbote/presgrade-backend/internal/repos"
	"github.com/yungbote/presgrade-backend/internal/store"
)

const uploadURLTTL = 15 * time.Minute

type SubmissionHandler struct {
	log   *logger.Logger
	repo  *repos.Repo
	media gcp.MediaStore
}

func NewSubmissionHandler(log *logger.Logger, repo *repos.Repo, media gcp.MediaStore) *SubmissionHandler {
	return &SubmissionHandler{
		log:   log.With("handler", "SubmissionHandler"),
		repo:  repo,
		media: media,
	}
}

type uploadURLRequest struct {
	FileName    string `json:"file_name" binding:"required"`
	ContentType string `json:"content_type"`
}

// POST /api/batches/:id/upload-url
// Hands the client a signed PUT URL; media never streams through this
// process. The object key embeds the batch id and a fresh uuid so collisions
// across re-uploads are impossible.
func (h *SubmissionHandler) CreateUploadURL(c *gin.Context) {
	if h.media == nil {
		RespondError(c, http.StatusServiceUnavailable, "storage_not_configured", fmt.Errorf("object storage not configured"))
		return
	}
	batchID := c.Param("id")
	if _, err := h.repo.GetBatch(c.Request.Context(), batchID); err != nil {
		RespondError(c, http.StatusNotFound, "batch_not_found", err)
		return
	}

	var req uploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	key := fmt.Sprintf("batches/%s/%s%s", batchID, uuid.NewString(), path.Ext(req.FileName))
	url, err := h.media.SignedUploadURL(key, req.ContentType, uploadURLTTL)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "upload_url_failed", err)
		return
	}
	RespondOK(c, gin.H{
		"upload_url": url,
		"file_key":   key,
		"expires_in": int(uploadURLTTL.Seconds()),
	})
}

type completeUploadRequest struct {
	FileKey      string `json:"file_key" binding:"required"`
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mime_type"`
	StudentName  string `json:"student_name"`
}

// POST /api/batches/:id/submissions
// Registers a completed upload: creates the submission record, joins it to
// the batch, and queues it for processing.
func (h *SubmissionHandler) CompleteUpload(c *gin.Context) {
	batchID := c.Param("id")
	if _, err := h.repo.GetBatch(c.Request.Context(), batchID); err != nil {
		RespondError(c, http.StatusNotFound, "batch_not_found", err)
		return
	}

	var req completeUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	sub, err := h.repo.CreateSubmission(c.Request.Context(), batchID, domain.FileRef{
		Key:          req.FileKey,
		Size:         req.Size,
		MimeType:     req.MimeType,
		OriginalName: req.OriginalName,
	}, req.StudentName)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "submission_create_failed", err)
		return
	}
	RespondOK(c, gin.H{"submission": sub})
}

// GET /api/submissions/:id
func (h *SubmissionHandler) GetSubmission(c *gin.Context) {
	sub, err := h.repo.GetSubmission(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		RespondError(c, http.StatusNotFound, "submission_not_found", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "submission_get_failed", err)
		return
	}
	RespondOK(c, gin.H{"submission": sub})
}

// GET /api/submissions/:id/media-url
// Signed GET URL for playback in the review UI.
func (h *SubmissionHandler) GetMediaURL(c *gin.Context) {
	if h.media == nil {
		RespondError(c, http.StatusServiceUnavailable, "storage_not_configured", fmt.Errorf("object storage not configured"))
		return
	}
	sub, err := h.repo.GetSubmission(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		RespondError(c, http.StatusNotFound, "submission_not_found", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "submission_get_failed", err)
		return
	}
	url, err := h.media.SignedDownloadURL(sub.File.Key, uploadURLTTL)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "media_url_failed", err)
		return
	}
	RespondOK(c, gin.H{"media_url": url, "expires_in": int(uploadURLTTL.Seconds())})
}

// DELETE /api/submissions/:id
func (h *SubmissionHandler) DeleteSubmission(c *gin.Context) {
	err := h.repo.DeleteSubmission(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		RespondError(c, http.StatusNotFound, "submission_not_found", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "submission_delete_failed", err)
		return
	}
	RespondOK(c, gin.H{"deleted": true})
}
