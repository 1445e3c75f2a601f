package repos

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/presgrade-backend/internal/domain"
	"github.com/yungbote/presgrade-backend/internal/store"
)

// CreateSubmission writes the submission record, adds its id to the batch's
// atomic membership set, appends it to the processing queue, and then folds
// the id into the batch record's ordered list. The first three writes are
// what processing depends on; the fold is a projection refresh and its
// failure is logged, not surfaced, because the membership set already holds
// the truth.
//
// Creation is idempotent per (batch, file key): a second create for the same
// file returns the existing submission instead of minting another. The file
// index claim is the atomic tiebreak, so concurrent duplicate creates
// converge on exactly one submission.
func (r *Repo) CreateSubmission(ctx context.Context, batchID string, file domain.FileRef, studentNameHint string) (*domain.Submission, error) {
	if batchID == "" {
		return nil, fmt.Errorf("batchID required")
	}
	if file.Key == "" {
		return nil, fmt.Errorf("file key required")
	}

	name := strings.TrimSpace(studentNameHint)
	if name == "" {
		source := file.OriginalName
		if source == "" {
			source = file.Key
		}
		name = InferStudentName(source)
	}

	now := r.now().UTC()
	sub := &domain.Submission{
		ID:          uuid.NewString(),
		BatchID:     batchID,
		File:        file,
		StudentName: name,
		Status:      domain.SubmissionStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	claimed, err := r.store.SetNX(ctx, BatchFileIndexKey(batchID, file.Key), sub.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		existing, err := r.resolveFileClaim(ctx, batchID, file.Key)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		// The claim exists but its record never landed (the claimant died
		// between the two writes). Adopt the claimed id so both writers
		// still converge on a single submission.
		if id, gerr := r.store.Get(ctx, BatchFileIndexKey(batchID, file.Key)); gerr == nil && id != "" {
			r.log.Warn("Adopting orphaned file claim",
				"batch_id", batchID,
				"file_key", file.Key,
				"submission_id", id,
			)
			sub.ID = id
		}
	}

	if err := r.setJSON(ctx, SubmissionKey(sub.ID), sub); err != nil {
		return nil, err
	}
	if err := r.store.SAdd(ctx, BatchMembershipKey(batchID), sub.ID); err != nil {
		return nil, err
	}
	if err := r.store.RPush(ctx, QueueKey, sub.ID); err != nil {
		return nil, err
	}

	if err := r.foldSubmissionIntoBatch(ctx, batchID, sub.ID); err != nil {
		r.log.Warn("Batch fold exhausted retries; membership set remains source of truth",
			"batch_id", batchID,
			"submission_id", sub.ID,
			"error", err,
		)
	}

	return sub, nil
}

// resolveFileClaim follows the file index to the submission it names. The
// winning creator writes the index before the record, so a reader racing the
// winner may need a few retries before the record appears.
func (r *Repo) resolveFileClaim(ctx context.Context, batchID, fileKey string) (*domain.Submission, error) {
	id, err := r.store.Get(ctx, BatchFileIndexKey(batchID, fileKey))
	if err != nil {
		return nil, err
	}

	backoff := r.foldBackoff
	for attempt := 0; ; attempt++ {
		sub, err := r.GetSubmission(ctx, id)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, store.ErrNotFound) || attempt >= r.foldAttempts-1 {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (r *Repo) GetSubmission(ctx context.Context, id string) (*domain.Submission, error) {
	var sub domain.Submission
	if err := r.getJSON(ctx, SubmissionKey(id), &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *Repo) SaveSubmission(ctx context.Context, sub *domain.Submission) error {
	if sub == nil || sub.ID == "" {
		return fmt.Errorf("submission with id required")
	}
	sub.UpdatedAt = r.now().UTC()
	return r.setJSON(ctx, SubmissionKey(sub.ID), sub)
}

// GetBatchSubmissions resolves the batch's submissions sorted by student
// display name. An empty SubmissionIDs list while the batch counter says
// otherwise means the projection fell behind; the membership set covers for
// it until the reconciler repairs the record.
func (r *Repo) GetBatchSubmissions(ctx context.Context, batchID string) ([]*domain.Submission, error) {
	b, err := r.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	ids := b.SubmissionIDs
	if len(ids) == 0 && b.TotalSubmissions > 0 {
		r.log.Warn("Batch submission list empty despite nonzero count, reading membership set",
			"batch_id", batchID,
			"total_submissions", b.TotalSubmissions,
		)
		ids, err = r.MembershipIDs(ctx, batchID)
		if err != nil {
			return nil, err
		}
	}

	subs := make([]*domain.Submission, 0, len(ids))
	for _, id := range ids {
		sub, err := r.GetSubmission(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	sort.Slice(subs, func(i, j int) bool {
		ni := strings.ToLower(subs[i].StudentName)
		nj := strings.ToLower(subs[j].StudentName)
		if ni != nj {
			return ni < nj
		}
		return subs[i].ID < subs[j].ID
	})
	return subs, nil
}

// DeleteSubmission cascades: storage file (best-effort), membership set
// entry, batch list entry, then the record. The queue is left alone; the
// claim protocol discards ids whose submission no longer exists.
func (r *Repo) DeleteSubmission(ctx context.Context, id string) error {
	sub, err := r.GetSubmission(ctx, id)
	if err != nil {
		return err
	}

	r.deleteSubmissionFile(ctx, sub)

	if err := r.store.SRem(ctx, BatchMembershipKey(sub.BatchID), id); err != nil {
		return err
	}
	keys := []string{SubmissionKey(id)}
	if sub.File.Key != "" {
		// Dropping the file index lets the same file be uploaded again.
		keys = append(keys, BatchFileIndexKey(sub.BatchID, sub.File.Key))
	}
	if err := r.store.Delete(ctx, keys...); err != nil {
		return err
	}

	b, err := r.GetBatch(ctx, sub.BatchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	b.SubmissionIDs = removeID(b.SubmissionIDs, id)
	b.TotalSubmissions = len(b.SubmissionIDs)
	if err := r.SaveBatch(ctx, b); err != nil {
		return err
	}
	_, err = r.UpdateBatchStats(ctx, sub.BatchID)
	return err
}

func (r *Repo) deleteSubmissionFile(ctx context.Context, sub *domain.Submission) {
	if r.files == nil || sub == nil || sub.File.Key == "" {
		return
	}
	if err := r.files.DeleteFile(ctx, sub.File.Key); err != nil {
		r.log.Warn("Object storage delete failed, continuing metadata cleanup",
			"submission_id", sub.ID,
			"file_key", sub.File.Key,
			"error", err,
		)
	}
}

// ---- queue ----

func (r *Repo) PushQueue(ctx context.Context, ids ...string) error {
	return r.store.RPush(ctx, QueueKey, ids...)
}

// PopQueue claims the head of the processing queue; the atomic pop is what
// guarantees each queued id lands on at most one worker.
func (r *Repo) PopQueue(ctx context.Context) (string, error) {
	return r.store.LPop(ctx, QueueKey)
}

func (r *Repo) QueueContents(ctx context.Context) ([]string, error) {
	return r.store.LRange(ctx, QueueKey, 0, -1)
}
