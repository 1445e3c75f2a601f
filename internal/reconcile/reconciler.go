package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/yungbote/presgrade-backend/internal/domain"
	"github.com/yungbote/presgrade-backend/internal/platform/logger"
	"github.com/yungbote/presgrade-backend/internal/repos"
	"github.com/yungbote/presgrade-backend/internal/store"
)

// Reconciler repairs drift between the queue, the membership sets, and the
// batch records, and resurrects work lost to crashed workers. It runs
// on-demand (before listing batches, when a batch detail view opens, when a
// processing call finds an empty queue) because the failure modes are rare
// and correctness matters more than latency. Every repair is idempotent;
// repeated passes converge.
type Reconciler struct {
	store store.Store
	repo  *repos.Repo
	log   *logger.Logger

	// Full key scans are paged and capped per invocation; a single pass may
	// cover only part of the keyspace, repeated passes cover all of it.
	maxScanPages int
	scanPageSize int64

	// A submission younger than this is assumed to belong to a live worker
	// and is never requeued, even when it looks stuck.
	minStuckAge time.Duration

	now func() time.Time
}

func New(st store.Store, repo *repos.Repo, baseLog *logger.Logger) *Reconciler {
	return &Reconciler{
		store:        st,
		repo:         repo,
		log:          baseLog.With("component", "Reconciler"),
		maxScanPages: 10,
		scanPageSize: 100,
		minStuckAge:  2 * time.Minute,
		now:          time.Now,
	}
}

// RecoverOrphans finds submissions that reference the batch but are not
// reachable from it and re-adds them to the membership set. The queue scan
// runs first because it is cheap and catches the common case (submission
// created, batch-side fold lost); the bounded key scan is the costly
// fallback that guarantees nothing stays invisible forever. Returns the
// newly recovered ids.
func (r *Reconciler) RecoverOrphans(ctx context.Context, batchID string) ([]string, error) {
	b, err := r.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	known := map[string]struct{}{}
	for _, id := range b.SubmissionIDs {
		known[id] = struct{}{}
	}
	members, err := r.repo.MembershipIDs(ctx, batchID)
	if err != nil {
		return nil, err
	}
	for _, id := range members {
		known[id] = struct{}{}
	}

	recovered := []string{}

	claim := func(id string) error {
		if _, ok := known[id]; ok {
			return nil
		}
		known[id] = struct{}{}
		sub, err := r.repo.GetSubmission(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if sub.BatchID != batchID {
			return nil
		}
		if err := r.store.SAdd(ctx, repos.BatchMembershipKey(batchID), id); err != nil {
			return err
		}
		recovered = append(recovered, id)
		return nil
	}

	// Pass 1: the shared queue.
	queued, err := r.repo.QueueContents(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range queued {
		if err := claim(id); err != nil {
			return nil, err
		}
	}

	// Pass 2: bounded scan over submission record keys.
	var cursor uint64
	for page := 0; page < r.maxScanPages; page++ {
		keys, next, err := r.store.Scan(ctx, cursor, repos.SubmissionKeyPattern, r.scanPageSize)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			id := repos.SubmissionIDFromKey(k)
			if id == "" {
				continue
			}
			if err := claim(id); err != nil {
				return nil, err
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	if len(recovered) > 0 {
		r.log.Info("Recovered orphaned submissions",
			"batch_id", batchID,
			"count", len(recovered),
		)
		if _, err := r.repo.UpdateBatchStats(ctx, batchID); err != nil {
			return recovered, err
		}
	}
	return recovered, nil
}

// RequeueStuck returns to the queue submissions a crashed worker abandoned
// mid-run, plus queued submissions that never made it onto the queue (a
// restart between create and enqueue). Detection is symptom-based: a
// non-terminal in-flight status cross-checked against queue membership, with
// a minimum age so a submission a live worker claimed moments ago is left
// alone.
func (r *Reconciler) RequeueStuck(ctx context.Context, batchID string) ([]string, error) {
	subs, err := r.repo.GetBatchSubmissions(ctx, batchID)
	if err != nil {
		return nil, err
	}

	queued, err := r.repo.QueueContents(ctx)
	if err != nil {
		return nil, err
	}
	onQueue := make(map[string]struct{}, len(queued))
	for _, id := range queued {
		onQueue[id] = struct{}{}
	}

	requeued := []string{}
	for _, sub := range subs {
		switch sub.Status {
		case domain.SubmissionStatusTranscribing, domain.SubmissionStatusAnalyzing:
			if !r.oldEnough(sub) {
				continue
			}
			sub.Status = domain.SubmissionStatusQueued
			sub.StartedAt = nil
			if err := r.repo.SaveSubmission(ctx, sub); err != nil {
				return requeued, err
			}
			if err := r.repo.PushQueue(ctx, sub.ID); err != nil {
				return requeued, err
			}
			requeued = append(requeued, sub.ID)
		case domain.SubmissionStatusQueued:
			if _, ok := onQueue[sub.ID]; ok {
				continue
			}
			if err := r.repo.PushQueue(ctx, sub.ID); err != nil {
				return requeued, err
			}
			requeued = append(requeued, sub.ID)
		}
	}

	if len(requeued) > 0 {
		r.log.Info("Requeued stuck submissions",
			"batch_id", batchID,
			"count", len(requeued),
		)
	}
	return requeued, nil
}

func (r *Reconciler) oldEnough(sub *domain.Submission) bool {
	ref := sub.UpdatedAt
	if sub.StartedAt != nil {
		ref = *sub.StartedAt
	}
	return r.now().Sub(ref) >= r.minStuckAge
}
