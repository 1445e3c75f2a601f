package domain

import "time"

const (
	SubmissionStatusQueued       = "queued"
	SubmissionStatusUploading    = "uploading"
	SubmissionStatusTranscribing = "transcribing"
	SubmissionStatusAnalyzing    = "analyzing"
	SubmissionStatusReady        = "ready"
	SubmissionStatusFailed       = "failed"
)

// FileRef points at the uploaded media object in the storage bucket.
type FileRef struct {
	Key          string `json:"key"`
	Size         int64  `json:"size,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	OriginalName string `json:"original_name,omitempty"`
}

// Segment is one time-aligned slice of a transcript.
type Segment struct {
	Text       string   `json:"text"`
	StartSec   *float64 `json:"start_sec,omitempty"`
	EndSec     *float64 `json:"end_sec,omitempty"`
	SpeakerTag *int     `json:"speaker_tag,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Submission is one uploaded presentation file and its processing results.
// Status and results are mutated only by the orchestrator; BatchID is a
// back-reference, not ownership — membership lives on the batch side.
type Submission struct {
	ID          string  `json:"id"`
	BatchID     string  `json:"batch_id"`
	File        FileRef `json:"file"`
	StudentName string  `json:"student_name"`
	Status      string  `json:"status"`

	Transcript  string    `json:"transcript,omitempty"`
	Segments    []Segment `json:"segments,omitempty"`
	DurationSec float64   `json:"duration_sec,omitempty"`

	Analysis     *ClaimAnalysis        `json:"analysis,omitempty"`
	Rubric       *RubricEvaluation     `json:"rubric,omitempty"`
	Questions    []Question            `json:"questions,omitempty"`
	Verification []VerificationFinding `json:"verification,omitempty"`

	BundleVersionID string            `json:"bundle_version_id,omitempty"`
	Retrieval       *RetrievalMetrics `json:"retrieval,omitempty"`

	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// HasScore reports whether a rubric evaluation with a defined overall score
// has been persisted. Aggregate "all graded" logic depends on score presence,
// not on status.
func (s *Submission) HasScore() bool {
	return s != nil && s.Rubric != nil && s.Rubric.OverallScore != nil
}

func (s *Submission) IsTerminal() bool {
	return s != nil && (s.Status == SubmissionStatusReady || s.Status == SubmissionStatusFailed)
}

type ClaimAnalysis struct {
	Claims          []Claim  `json:"claims"`
	Gaps            []string `json:"gaps,omitempty"`
	MissingEvidence []string `json:"missing_evidence,omitempty"`
}

type Claim struct {
	Text       string   `json:"text"`
	Timestamp  *float64 `json:"timestamp,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type RubricEvaluation struct {
	OverallScore *float64         `json:"overall_score,omitempty"`
	MaxScore     float64          `json:"max_score,omitempty"`
	Criteria     []CriterionScore `json:"criteria,omitempty"`
	Strengths    []string         `json:"strengths,omitempty"`
	Improvements []string         `json:"improvements,omitempty"`
	Feedback     string           `json:"feedback,omitempty"`
}

type CriterionScore struct {
	Name      string   `json:"name"`
	Score     float64  `json:"score"`
	MaxScore  float64  `json:"max_score"`
	Feedback  string   `json:"feedback,omitempty"`
	Citations []string `json:"citations,omitempty"`
}

type Question struct {
	Question string `json:"question"`
	Purpose  string `json:"purpose,omitempty"`
	BasedOn  string `json:"based_on,omitempty"`
}

type VerificationFinding struct {
	Claim       string   `json:"claim"`
	Verdict     string   `json:"verdict"`
	Explanation string   `json:"explanation,omitempty"`
	Evidence    []string `json:"evidence,omitempty"`
}
