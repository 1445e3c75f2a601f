package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/presgrade-backend/internal/clients/gcp"
	"github.com/yungbote/presgrade-backend/internal/domain"
	"github.com/yungbote/presgrade-backend/internal/grading"
	"github.com/yungbote/presgrade-backend/internal/platform/logger"
	"github.com/yungbote/presgrade-backend/internal/reconcile"
	"github.com/yungbote/presgrade-backend/internal/repos"
	"github.com/yungbote/presgrade-backend/internal/retrieval"
	"github.com/yungbote/presgrade-backend/internal/store"
)

const (
	// minTranscriptRunes guards against silent or corrupt media producing an
	// empty grade. Anything shorter fails the submission outright.
	minTranscriptRunes = 20

	// maxClaimAttempts bounds one claim cycle so a queue full of ids for
	// other batches or deleted submissions cannot spin a worker forever.
	maxClaimAttempts = 50

	rubricRetryDelay = 2 * time.Second
)

// ErrQueueEmpty reports that a claim cycle found no work, after the stuck
// requeue pass had its chance to surface some.
var ErrQueueEmpty = errors.New("processing queue is empty")

// Orchestrator walks one submission at a time through the processing state
// machine: claim from the queue, transcribe, grade, persist a terminal
// status, refresh batch aggregates. It holds no state between runs; any
// number of workers can run it concurrently against the same store.
type Orchestrator struct {
	repo       *repos.Repo
	reconciler *reconcile.Reconciler
	media      gcp.MediaStore
	speech     gcp.Speech
	grader     grading.Service
	engine     *retrieval.Engine
	log        *logger.Logger
	now        func() time.Time

	speechCfg  gcp.SpeechConfig
	retryDelay time.Duration
}

type Config struct {
	Repo       *repos.Repo
	Reconciler *reconcile.Reconciler
	Media      gcp.MediaStore
	Speech     gcp.Speech
	Grader     grading.Service
	Engine     *retrieval.Engine
	Log        *logger.Logger
	SpeechCfg  *gcp.SpeechConfig
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("repo required")
	}
	if cfg.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	if cfg.Log == nil {
		return nil, fmt.Errorf("logger required")
	}
	speechCfg := gcp.SpeechConfig{
		LanguageCode:               "en-US",
		Model:                      "latest_long",
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
		EnableSpeakerDiarization:   true,
		MinSpeakerCount:            1,
		MaxSpeakerCount:            2,
	}
	if cfg.SpeechCfg != nil {
		speechCfg = *cfg.SpeechCfg
	}
	return &Orchestrator{
		repo:       cfg.Repo,
		reconciler: cfg.Reconciler,
		media:      cfg.Media,
		speech:     cfg.Speech,
		grader:     cfg.Grader,
		engine:     cfg.Engine,
		log:        cfg.Log.With("component", "Orchestrator"),
		now:        time.Now,
		speechCfg:  speechCfg,
		retryDelay: rubricRetryDelay,
	}, nil
}

// ProcessNext claims one submission and runs it to a terminal status. When
// batchID is non-empty, ids belonging to other batches are requeued instead
// of processed. Returns ErrQueueEmpty when there is nothing to do.
func (o *Orchestrator) ProcessNext(ctx context.Context, batchID string) (*domain.Submission, error) {
	sub, err := o.claim(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return o.runSubmission(ctx, sub)
}

// claim pops queue entries until one resolves to a live, still-queued
// submission. Stale ids (deleted submissions, already-processed entries from
// a requeue race) are discarded silently; ids for foreign batches go back on
// the tail. An empty queue triggers one stuck-work requeue pass before the
// cycle gives up, so a crashed worker's abandoned submission is picked up by
// the very next processing call rather than an eventual one.
func (o *Orchestrator) claim(ctx context.Context, batchID string) (*domain.Submission, error) {
	requeuedStuck := false
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		id, err := o.repo.PopQueue(ctx)
		if errors.Is(err, store.ErrNotFound) {
			if requeuedStuck || batchID == "" {
				return nil, ErrQueueEmpty
			}
			requeuedStuck = true
			requeued, rerr := o.reconciler.RequeueStuck(ctx, batchID)
			if rerr != nil {
				return nil, rerr
			}
			if len(requeued) == 0 {
				return nil, ErrQueueEmpty
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		sub, err := o.repo.GetSubmission(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if sub.Status != domain.SubmissionStatusQueued {
			continue
		}
		if batchID != "" && sub.BatchID != batchID {
			if err := o.repo.PushQueue(ctx, id); err != nil {
				return nil, err
			}
			continue
		}
		return sub, nil
	}
	return nil, ErrQueueEmpty
}

// runSubmission drives the claimed submission through transcription and
// grading. Each phase persists its status before starting so a crash leaves
// a truthful record for the reconciler to find.
func (o *Orchestrator) runSubmission(ctx context.Context, sub *domain.Submission) (*domain.Submission, error) {
	if o.speech == nil || o.media == nil {
		return o.markFailed(ctx, sub, "transcription service not configured")
	}
	if o.grader == nil {
		return o.markFailed(ctx, sub, "grading service not configured")
	}

	batch, err := o.repo.GetBatch(ctx, sub.BatchID)
	if err != nil {
		return o.markFailed(ctx, sub, fmt.Sprintf("batch lookup failed: %v", err))
	}

	started := o.now().UTC()
	sub.Status = domain.SubmissionStatusTranscribing
	sub.StartedAt = &started
	sub.ErrorMessage = ""
	if err := o.repo.SaveSubmission(ctx, sub); err != nil {
		return nil, err
	}
	o.log.Info("Processing submission",
		"submission_id", sub.ID,
		"batch_id", sub.BatchID,
	)

	res, err := o.speech.TranscribeGCS(ctx, o.media.GCSURI(sub.File.Key), o.speechCfg)
	if err != nil {
		return o.markFailed(ctx, sub, fmt.Sprintf("transcription failed: %v", err))
	}
	if len([]rune(strings.TrimSpace(res.Transcript))) < minTranscriptRunes {
		return o.markFailed(ctx, sub, "Transcription returned empty or too short")
	}

	sub.Transcript = res.Transcript
	sub.Segments = res.Segments
	sub.DurationSec = res.DurationSec
	sub.Status = domain.SubmissionStatusAnalyzing
	if err := o.repo.SaveSubmission(ctx, sub); err != nil {
		return nil, err
	}

	contextText := o.retrieveContext(ctx, batch, sub)

	analysis, err := o.grader.AnalyzeTranscript(ctx, sub.Transcript, contextText)
	if err != nil {
		return o.markFailed(ctx, sub, fmt.Sprintf("claim analysis failed: %v", err))
	}
	sub.Analysis = analysis

	// Rubric scoring must produce a score; the other two degrade to empty.
	g, gctx := errgroup.WithContext(ctx)
	var rubricEval *domain.RubricEvaluation
	var questions []domain.Question
	var findings []domain.VerificationFinding

	g.Go(func() error {
		ev, err := o.evaluateRubricWithRetry(gctx, batch, sub, analysis, contextText)
		if err != nil {
			return err
		}
		rubricEval = ev
		return nil
	})
	g.Go(func() error {
		qs, err := o.grader.GenerateQuestions(gctx, sub.Transcript, analysis)
		if err != nil {
			o.log.Warn("Question generation failed, continuing without",
				"submission_id", sub.ID,
				"error", err,
			)
			return nil
		}
		questions = qs
		return nil
	})
	g.Go(func() error {
		fs, err := o.grader.VerifyClaims(gctx, analysis, contextText)
		if err != nil {
			o.log.Warn("Claim verification failed, continuing without",
				"submission_id", sub.ID,
				"error", err,
			)
			return nil
		}
		findings = fs
		return nil
	})
	if err := g.Wait(); err != nil {
		return o.markFailed(ctx, sub, fmt.Sprintf("rubric evaluation failed: %v", err))
	}

	sub.Rubric = rubricEval
	sub.Questions = questions
	sub.Verification = findings

	done := o.now().UTC()
	sub.Status = domain.SubmissionStatusReady
	sub.CompletedAt = &done
	if err := o.repo.SaveSubmission(ctx, sub); err != nil {
		return nil, err
	}
	if _, err := o.repo.UpdateBatchStats(ctx, sub.BatchID); err != nil {
		return sub, err
	}
	o.log.Info("Submission ready",
		"submission_id", sub.ID,
		"batch_id", sub.BatchID,
		"duration_sec", sub.DurationSec,
	)
	return sub, nil
}

// evaluateRubricWithRetry tries the scoring call twice. A second failure
// still yields a score: a zero-score placeholder, so the batch can reach
// completion with an honest record of what happened rather than hanging on
// one bad submission forever.
func (o *Orchestrator) evaluateRubricWithRetry(ctx context.Context, batch *domain.Batch, sub *domain.Submission, analysis *domain.ClaimAnalysis, contextText string) (*domain.RubricEvaluation, error) {
	ev, err := o.grader.EvaluateRubric(ctx, sub.Transcript, analysis, batch.Rubric, batch.RubricText, contextText)
	if err == nil {
		return ev, nil
	}
	o.log.Warn("Rubric evaluation failed, retrying once",
		"submission_id", sub.ID,
		"error", err,
	)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(o.retryDelay):
	}

	ev, err = o.grader.EvaluateRubric(ctx, sub.Transcript, analysis, batch.Rubric, batch.RubricText, contextText)
	if err == nil {
		return ev, nil
	}
	o.log.Error("Rubric evaluation failed twice, recording zero-score placeholder",
		"submission_id", sub.ID,
		"error", err,
	)
	return zeroScoreEvaluation(batch.Rubric, err), nil
}

// zeroScoreEvaluation is the placeholder persisted when scoring fails
// permanently. It carries a defined overall score of zero so aggregate
// completion logic still counts the submission as graded.
func zeroScoreEvaluation(rubric *domain.Rubric, cause error) *domain.RubricEvaluation {
	zero := 0.0
	ev := &domain.RubricEvaluation{
		OverallScore: &zero,
		Feedback:     fmt.Sprintf("Automatic scoring was unavailable for this submission (%v). An instructor should review it manually.", cause),
	}
	if rubric != nil {
		for _, c := range rubric.Criteria {
			ev.MaxScore += c.MaxScore
			ev.Criteria = append(ev.Criteria, domain.CriterionScore{
				Name:     c.Name,
				Score:    0,
				MaxScore: c.MaxScore,
				Feedback: "Not scored; automatic evaluation failed.",
			})
		}
	}
	return ev
}

// retrieveContext pulls rubric-targeted course material when the batch has an
// indexed bundle. Retrieval problems never fail the submission; grading just
// proceeds ungrounded.
func (o *Orchestrator) retrieveContext(ctx context.Context, batch *domain.Batch, sub *domain.Submission) string {
	if o.engine == nil || batch.BundleVersionID == "" {
		return ""
	}
	var criteria []domain.RubricCriterion
	if batch.Rubric != nil {
		criteria = batch.Rubric.Criteria
	}
	if len(criteria) == 0 {
		criteria = []domain.RubricCriterion{{
			Name:        "Overall quality",
			Description: batch.RubricText,
		}}
	}

	res, err := o.engine.RetrieveByCriterion(ctx, batch.BundleVersionID, criteria, sub.Transcript)
	if err != nil {
		o.log.Warn("Context retrieval failed, grading without course material",
			"submission_id", sub.ID,
			"bundle_id", batch.BundleVersionID,
			"error", err,
		)
		return ""
	}

	sub.BundleVersionID = batch.BundleVersionID
	sub.Retrieval = &res.Metrics
	return res.FormattedContext
}

// markFailed records a terminal failure with its reason and refreshes the
// batch aggregates so the failure is visible immediately.
func (o *Orchestrator) markFailed(ctx context.Context, sub *domain.Submission, msg string) (*domain.Submission, error) {
	o.log.Error("Submission failed",
		"submission_id", sub.ID,
		"batch_id", sub.BatchID,
		"reason", msg,
	)
	done := o.now().UTC()
	sub.Status = domain.SubmissionStatusFailed
	sub.ErrorMessage = msg
	sub.CompletedAt = &done
	if err := o.repo.SaveSubmission(ctx, sub); err != nil {
		return nil, err
	}
	if _, err := o.repo.UpdateBatchStats(ctx, sub.BatchID); err != nil {
		return sub, err
	}
	return sub, nil
}

// ProcessBatch drains the queue for one batch, processing serially until the
// queue is empty. Returns the submissions it touched.
func (o *Orchestrator) ProcessBatch(ctx context.Context, batchID string) ([]*domain.Submission, error) {
	if _, err := o.reconciler.RecoverOrphans(ctx, batchID); err != nil {
		return nil, err
	}

	out := []*domain.Submission{}
	for {
		sub, err := o.ProcessNext(ctx, batchID)
		if errors.Is(err, ErrQueueEmpty) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, sub)
	}
}
