package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/yungbote/presgrade-backend/internal/domain"
	"github.com/yungbote/presgrade-backend/internal/platform/logger"
	"github.com/yungbote/presgrade-backend/internal/repos"
	"github.com/yungbote/presgrade-backend/internal/store"
)

func testSetup(t *testing.T) (*Reconciler, *repos.Repo, *store.MemoryStore) {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })
	st := store.NewMemoryStore()
	repo := repos.NewRepo(st, nil, log)
	return New(st, repo, log), repo, st
}

func TestRecoverOrphansFromQueue(t *testing.T) {
	r, repo, st := testSetup(t)
	ctx := context.Background()

	b, err := repo.CreateBatch(ctx, &domain.Batch{Name: "n"})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	sub, err := repo.CreateSubmission(ctx, b.ID, domain.FileRef{Key: "a"}, "alice")
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	// Sever both batch-side references, keeping the record and the queue
	// entry, the shape a lost fold plus a clobbered membership write leaves.
	if err := st.SRem(ctx, repos.BatchMembershipKey(b.ID), sub.ID); err != nil {
		t.Fatalf("SRem: %v", err)
	}
	stale, err := repo.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	stale.SubmissionIDs = []string{}
	stale.TotalSubmissions = 0
	if err := repo.SaveBatch(ctx, stale); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}

	recovered, err := r.RecoverOrphans(ctx, b.ID)
	if err != nil {
		t.Fatalf("RecoverOrphans: %v", err)
	}
	if len(recovered) != 1 || recovered[0] != sub.ID {
		t.Fatalf("recovered: want=[%s] got=%v", sub.ID, recovered)
	}

	members, err := repo.MembershipIDs(ctx, b.ID)
	if err != nil {
		t.Fatalf("MembershipIDs: %v", err)
	}
	if len(members) != 1 || members[0] != sub.ID {
		t.Fatalf("membership: want=[%s] got=%v", sub.ID, members)
	}
	got, err := repo.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.TotalSubmissions != 1 {
		t.Fatalf("total after recovery: want=1 got=%d", got.TotalSubmissions)
	}
}

func TestRecoverOrphansFromKeyScan(t *testing.T) {
	r, repo, st := testSetup(t)
	ctx := context.Background()

	b, err := repo.CreateBatch(ctx, &domain.Batch{Name: "n"})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	sub, err := repo.CreateSubmission(ctx, b.ID, domain.FileRef{Key: "a"}, "alice")
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	// Worst case: record exists but queue entry, membership and batch list
	// are all gone. Only the key scan can find it.
	if _, err := repo.PopQueue(ctx); err != nil {
		t.Fatalf("PopQueue: %v", err)
	}
	if err := st.SRem(ctx, repos.BatchMembershipKey(b.ID), sub.ID); err != nil {
		t.Fatalf("SRem: %v", err)
	}
	stale, err := repo.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	stale.SubmissionIDs = []string{}
	stale.TotalSubmissions = 0
	if err := repo.SaveBatch(ctx, stale); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}

	recovered, err := r.RecoverOrphans(ctx, b.ID)
	if err != nil {
		t.Fatalf("RecoverOrphans: %v", err)
	}
	if len(recovered) != 1 || recovered[0] != sub.ID {
		t.Fatalf("recovered: want=[%s] got=%v", sub.ID, recovered)
	}
}

func TestRecoverOrphansIgnoresForeignBatch(t *testing.T) {
	r, repo, _ := testSetup(t)
	ctx := context.Background()

	b1, err := repo.CreateBatch(ctx, &domain.Batch{Name: "mine"})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	b2, err := repo.CreateBatch(ctx, &domain.Batch{Name: "theirs"})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if _, err := repo.CreateSubmission(ctx, b2.ID, domain.FileRef{Key: "x"}, "bob"); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	recovered, err := r.RecoverOrphans(ctx, b1.ID)
	if err != nil {
		t.Fatalf("RecoverOrphans: %v", err)
	}
	if len(recovered) != 0 {
		t.Fatalf("recovered foreign submissions: %v", recovered)
	}
	members, err := repo.MembershipIDs(ctx, b1.ID)
	if err != nil {
		t.Fatalf("MembershipIDs: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("membership polluted: %v", members)
	}
}

func TestRequeueStuckAbandonedWorker(t *testing.T) {
	r, repo, _ := testSetup(t)
	ctx := context.Background()

	b, err := repo.CreateBatch(ctx, &domain.Batch{Name: "n"})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	sub, err := repo.CreateSubmission(ctx, b.ID, domain.FileRef{Key: "a"}, "alice")
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	// A worker claimed it and died mid-transcription.
	if _, err := repo.PopQueue(ctx); err != nil {
		t.Fatalf("PopQueue: %v", err)
	}
	started := time.Now().Add(-10 * time.Minute)
	sub.Status = domain.SubmissionStatusTranscribing
	sub.StartedAt = &started
	if err := repo.SaveSubmission(ctx, sub); err != nil {
		t.Fatalf("SaveSubmission: %v", err)
	}
	requeued, err := r.RequeueStuck(ctx, b.ID)
	if err != nil {
		t.Fatalf("RequeueStuck: %v", err)
	}
	if len(requeued) != 1 || requeued[0] != sub.ID {
		t.Fatalf("requeued: want=[%s] got=%v", sub.ID, requeued)
	}

	got, err := repo.GetSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if got.Status != domain.SubmissionStatusQueued {
		t.Fatalf("status: want=%q got=%q", domain.SubmissionStatusQueued, got.Status)
	}
	if got.StartedAt != nil {
		t.Fatalf("StartedAt should be cleared on requeue")
	}
	queued, err := repo.QueueContents(ctx)
	if err != nil {
		t.Fatalf("QueueContents: %v", err)
	}
	if len(queued) != 1 || queued[0] != sub.ID {
		t.Fatalf("queue: want=[%s] got=%v", sub.ID, queued)
	}
}

func TestRequeueStuckRespectsMinimumAge(t *testing.T) {
	r, repo, _ := testSetup(t)
	ctx := context.Background()

	b, err := repo.CreateBatch(ctx, &domain.Batch{Name: "n"})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	sub, err := repo.CreateSubmission(ctx, b.ID, domain.FileRef{Key: "a"}, "alice")
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	if _, err := repo.PopQueue(ctx); err != nil {
		t.Fatalf("PopQueue: %v", err)
	}
	started := time.Now()
	sub.Status = domain.SubmissionStatusAnalyzing
	sub.StartedAt = &started
	if err := repo.SaveSubmission(ctx, sub); err != nil {
		t.Fatalf("SaveSubmission: %v", err)
	}

	// Freshly claimed work belongs to a live worker; leave it alone.
	requeued, err := r.RequeueStuck(ctx, b.ID)
	if err != nil {
		t.Fatalf("RequeueStuck: %v", err)
	}
	if len(requeued) != 0 {
		t.Fatalf("requeued live work: %v", requeued)
	}
}

func TestRequeueStuckQueuedButAbsentFromQueue(t *testing.T) {
	r, repo, _ := testSetup(t)
	ctx := context.Background()

	b, err := repo.CreateBatch(ctx, &domain.Batch{Name: "n"})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	sub, err := repo.CreateSubmission(ctx, b.ID, domain.FileRef{Key: "a"}, "alice")
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	// A restart between create and enqueue: status queued, queue empty.
	if _, err := repo.PopQueue(ctx); err != nil {
		t.Fatalf("PopQueue: %v", err)
	}

	requeued, err := r.RequeueStuck(ctx, b.ID)
	if err != nil {
		t.Fatalf("RequeueStuck: %v", err)
	}
	if len(requeued) != 1 || requeued[0] != sub.ID {
		t.Fatalf("requeued: want=[%s] got=%v", sub.ID, requeued)
	}
	queued, err := repo.QueueContents(ctx)
	if err != nil {
		t.Fatalf("QueueContents: %v", err)
	}
	if len(queued) != 1 || queued[0] != sub.ID {
		t.Fatalf("queue: want=[%s] got=%v", sub.ID, queued)
	}
}

func TestRecoverOrphansIdempotent(t *testing.T) {
	r, repo, st := testSetup(t)
	ctx := context.Background()

	b, err := repo.CreateBatch(ctx, &domain.Batch{Name: "n"})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	sub, err := repo.CreateSubmission(ctx, b.ID, domain.FileRef{Key: "a"}, "alice")
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	if err := st.SRem(ctx, repos.BatchMembershipKey(b.ID), sub.ID); err != nil {
		t.Fatalf("SRem: %v", err)
	}
	stale, err := repo.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	stale.SubmissionIDs = []string{}
	stale.TotalSubmissions = 0
	if err := repo.SaveBatch(ctx, stale); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}

	if _, err := r.RecoverOrphans(ctx, b.ID); err != nil {
		t.Fatalf("RecoverOrphans: %v", err)
	}
	second, err := r.RecoverOrphans(ctx, b.ID)
	if err != nil {
		t.Fatalf("RecoverOrphans second pass: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second pass recovered again: %v", second)
	}
}
