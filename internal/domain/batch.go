package domain

import "time"

const (
	BatchStatusActive     = "active"
	BatchStatusProcessing = "processing"
	BatchStatusCompleted  = "completed"
	BatchStatusArchived   = "archived"
)

// Batch groups submissions graded against one rubric/course context.
//
// SubmissionIDs is a convenience projection that can legitimately fall behind
// under concurrent creation; the batch's membership set in the record store is
// the source of truth for which submissions belong here. TotalSubmissions,
// ProcessedCount and FailedCount are recomputed projections, never counters
// incremented in place.
type Batch struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CourseID     string `json:"course_id,omitempty"`
	AssignmentID string `json:"assignment_id,omitempty"`

	RubricText      string  `json:"rubric_text,omitempty"`
	Rubric          *Rubric `json:"rubric,omitempty"`
	BundleVersionID string  `json:"bundle_version_id,omitempty"`

	SubmissionIDs       []string `json:"submission_ids"`
	ExpectedUploadCount *int     `json:"expected_upload_count,omitempty"`

	TotalSubmissions int    `json:"total_submissions"`
	ProcessedCount   int    `json:"processed_count"`
	FailedCount      int    `json:"failed_count"`
	Status           string `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Rubric struct {
	Criteria []RubricCriterion `json:"criteria"`
}

type RubricCriterion struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	MaxScore    float64 `json:"max_score"`
}

func (b *Batch) HasSubmission(id string) bool {
	for _, v := range b.SubmissionIDs {
		if v == id {
			return true
		}
	}
	return false
}
