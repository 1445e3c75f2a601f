package domain

import "time"

// ContextBundle is an immutable snapshot of the course material used to
// ground grading for a batch. Documents carry the raw text to index; the
// summary is the coarse fallback when retrieval finds nothing relevant.
type ContextBundle struct {
	ID            string           `json:"id"`
	CourseID      string           `json:"course_id,omitempty"`
	CourseSummary string           `json:"course_summary,omitempty"`
	Documents     []BundleDocument `json:"documents,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

type BundleDocument struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// DocumentChunk is a bounded slice of a course document, the unit of
// retrieval. Chunks are immutable once created; re-indexing creates new ids
// and swaps out the old set. The embedding lives in a separate record keyed
// by EmbeddingID so bulk chunk scans never deserialize vectors.
type DocumentChunk struct {
	ID              string    `json:"id"`
	BundleVersionID string    `json:"bundle_version_id"`
	DocumentName    string    `json:"document_name"`
	Index           int       `json:"index"`
	Text            string    `json:"text"`
	EmbeddingID     string    `json:"embedding_id"`
	CreatedAt       time.Time `json:"created_at"`
}

type ChunkEmbedding struct {
	ID      string    `json:"id"`
	ChunkID string    `json:"chunk_id"`
	Vector  []float32 `json:"vector"`
}

// Citation is one retrieved chunk attributed back to its source document,
// persisted for UI display alongside the graded submission.
type Citation struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentName string  `json:"document_name"`
	Snippet      string  `json:"snippet"`
	Relevance    float64 `json:"relevance"`
}

// RetrievalMetrics records how well context assembly went for one grading
// run, for transparency.
type RetrievalMetrics struct {
	ChunksRetrieved     int     `json:"chunks_retrieved"`
	AvgRelevance        float64 `json:"avg_relevance"`
	HighConfidenceCount int     `json:"high_confidence_count"`
	UsedFallback        bool    `json:"used_fallback"`
	CharactersUsed      int     `json:"characters_used"`
}
