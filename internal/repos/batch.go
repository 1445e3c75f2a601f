package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/presgrade-backend/internal/domain"
	"github.com/yungbote/presgrade-backend/internal/store"
)

func (r *Repo) CreateBatch(ctx context.Context, b *domain.Batch) (*domain.Batch, error) {
	if b == nil {
		return nil, fmt.Errorf("batch required")
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = domain.BatchStatusActive
	}
	if b.SubmissionIDs == nil {
		b.SubmissionIDs = []string{}
	}
	now := r.now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	if err := r.setJSON(ctx, BatchKey(b.ID), b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Repo) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	var b domain.Batch
	if err := r.getJSON(ctx, BatchKey(id), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repo) SaveBatch(ctx context.Context, b *domain.Batch) error {
	if b == nil || b.ID == "" {
		return fmt.Errorf("batch with id required")
	}
	b.UpdatedAt = r.now().UTC()
	return r.setJSON(ctx, BatchKey(b.ID), b)
}

// ListBatches walks batch record keys in bounded pages.
func (r *Repo) ListBatches(ctx context.Context) ([]*domain.Batch, error) {
	out := []*domain.Batch{}
	var cursor uint64
	for {
		keys, next, err := r.store.Scan(ctx, cursor, batchKeyPrefix+"*", 100)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if !IsBatchRecordKey(k) {
				continue
			}
			var b domain.Batch
			if err := r.getJSON(ctx, k, &b); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return nil, err
			}
			out = append(out, &b)
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// MembershipIDs returns the atomic membership set for a batch, the ground
// truth for which submissions belong to it.
func (r *Repo) MembershipIDs(ctx context.Context, batchID string) ([]string, error) {
	return r.store.SMembers(ctx, BatchMembershipKey(batchID))
}

// foldSubmissionIntoBatch merges a newly created submission id into the
// batch record's ordered SubmissionIDs list. Under concurrent creation the
// batch record may have been rewritten between our read and write, losing the
// fold; each attempt re-reads the batch, unions its list with the membership
// set and the new id, writes, and verifies the id landed. After the attempts
// are exhausted the membership set remains the fallback source of truth, so
// giving up here loses nothing permanently.
func (r *Repo) foldSubmissionIntoBatch(ctx context.Context, batchID, submissionID string) error {
	backoff := r.foldBackoff
	var lastErr error

	for attempt := 0; attempt < r.foldAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		b, err := r.GetBatch(ctx, batchID)
		if err != nil {
			lastErr = err
			continue
		}

		members, err := r.MembershipIDs(ctx, batchID)
		if err != nil {
			lastErr = err
			continue
		}

		b.SubmissionIDs = unionIDs(b.SubmissionIDs, members, []string{submissionID})
		b.TotalSubmissions = len(b.SubmissionIDs)
		clearSatisfiedUploadCount(b)
		if err := r.SaveBatch(ctx, b); err != nil {
			lastErr = err
			continue
		}

		// Verify the write landed with our id still present; a concurrent
		// writer may have clobbered it between read and write.
		check, err := r.GetBatch(ctx, batchID)
		if err != nil {
			lastErr = err
			continue
		}
		if check.HasSubmission(submissionID) {
			return nil
		}
		lastErr = fmt.Errorf("fold lost to concurrent batch write")
	}
	return fmt.Errorf("fold submission %s into batch %s: %w", submissionID, batchID, lastErr)
}

func clearSatisfiedUploadCount(b *domain.Batch) {
	if b.ExpectedUploadCount != nil && b.TotalSubmissions >= *b.ExpectedUploadCount {
		b.ExpectedUploadCount = nil
	}
}

// UpdateBatchStats recomputes the batch's aggregate projections from the
// submissions actually reachable right now. ProcessedCount requires a defined
// rubric score, not just a ready status, and the batch is completed only when
// every reachable submission has a score.
func (r *Repo) UpdateBatchStats(ctx context.Context, batchID string) (*domain.Batch, error) {
	b, err := r.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	members, err := r.MembershipIDs(ctx, batchID)
	if err != nil {
		return nil, err
	}
	ids := unionIDs(b.SubmissionIDs, members)

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

	// A read racing ahead of a concurrent create can see zero submissions
	// while the batch's own counter says otherwise; refuse to shrink to zero
	// in that case.
	if len(subs) == 0 && b.TotalSubmissions > 0 {
		r.log.Warn("Batch stats refresh saw no submissions despite nonzero count, skipping",
			"batch_id", batchID,
			"total_submissions", b.TotalSubmissions,
		)
		return b, nil
	}

	var processed, failed, scored, finishedNoScore int
	for _, sub := range subs {
		switch {
		case sub.Status == domain.SubmissionStatusReady && sub.HasScore():
			processed++
		case sub.Status == domain.SubmissionStatusFailed:
			failed++
		}
		if sub.HasScore() {
			scored++
		} else if sub.IsTerminal() {
			finishedNoScore++
		}
	}

	b.SubmissionIDs = ids
	b.TotalSubmissions = len(subs)
	b.ProcessedCount = processed
	b.FailedCount = failed
	clearSatisfiedUploadCount(b)

	if b.Status != domain.BatchStatusArchived {
		switch {
		case len(subs) > 0 && scored == len(subs):
			b.Status = domain.BatchStatusCompleted
		case scored > 0 || finishedNoScore > 0:
			b.Status = domain.BatchStatusProcessing
		default:
			b.Status = domain.BatchStatusActive
		}
	}

	if err := r.SaveBatch(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// DeleteBatch cascades: object-storage files first (best-effort), then the
// submission records, the membership set, and the batch record itself.
func (r *Repo) DeleteBatch(ctx context.Context, batchID string) error {
	b, err := r.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}

	members, err := r.MembershipIDs(ctx, batchID)
	if err != nil {
		return err
	}
	ids := unionIDs(b.SubmissionIDs, members)

	for _, id := range ids {
		sub, err := r.GetSubmission(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		r.deleteSubmissionFile(ctx, sub)
		keys := []string{SubmissionKey(id)}
		if sub.File.Key != "" {
			keys = append(keys, BatchFileIndexKey(batchID, sub.File.Key))
		}
		if err := r.store.Delete(ctx, keys...); err != nil {
			return err
		}
	}

	return r.store.Delete(ctx, BatchMembershipKey(batchID), BatchKey(batchID))
}
