package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/presgrade-backend/internal/domain"
	"github.com/yungbote/presgrade-backend/internal/platform/logger"
	"github.com/yungbote/presgrade-backend/internal/store"
)

const (
	semanticWeight = 0.7
	keywordWeight  = 0.3
)

// Embedder is the slice of the AI client the engine needs.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Summarizer is the optional slice of the AI client that can write a course
// summary. The engine probes its embedder for it at indexing time; test
// doubles that only embed simply skip summarization.
type Summarizer interface {
	GenerateText(ctx context.Context, system string, user string) (string, error)
}

// Options tune retrieval. Zero values fall back to defaults.
type Options struct {
	MinRelevance          float64 // chunks scoring below this are discarded
	MaxChunksPerCriterion int
	MaxContextChars       int // running budget across ALL criteria combined
	TranscriptPrefixChars int // how much transcript seeds each criterion query
	HighConfidence        float64
	EmbedBatchSize        int
}

func (o *Options) withDefaults() Options {
	out := Options{
		MinRelevance:          0.35,
		MaxChunksPerCriterion: 3,
		MaxContextChars:       8000,
		TranscriptPrefixChars: 600,
		HighConfidence:        0.7,
		EmbedBatchSize:        64,
	}
	if o == nil {
		return out
	}
	if o.MinRelevance > 0 {
		out.MinRelevance = o.MinRelevance
	}
	if o.MaxChunksPerCriterion > 0 {
		out.MaxChunksPerCriterion = o.MaxChunksPerCriterion
	}
	if o.MaxContextChars > 0 {
		out.MaxContextChars = o.MaxContextChars
	}
	if o.TranscriptPrefixChars > 0 {
		out.TranscriptPrefixChars = o.TranscriptPrefixChars
	}
	if o.HighConfidence > 0 {
		out.HighConfidence = o.HighConfidence
	}
	if o.EmbedBatchSize > 0 {
		out.EmbedBatchSize = o.EmbedBatchSize
	}
	return out
}

// Engine turns a pool of course documents into a token-budgeted,
// attributable context string for grading. Chunks are embedded once at
// ingestion; retrieval is a hybrid of cosine similarity and literal keyword
// overlap.
type Engine struct {
	store store.Store
	ai    Embedder
	log   *logger.Logger
	opts  Options
	now   func() time.Time
}

func NewEngine(st store.Store, ai Embedder, baseLog *logger.Logger, opts *Options) *Engine {
	return &Engine{
		store: st,
		ai:    ai,
		log:   baseLog.With("component", "RetrievalEngine"),
		opts:  opts.withDefaults(),
		now:   time.Now,
	}
}

// ---- keys ----

func bundleKey(id string) string       { return "bundle:" + id }
func bundleChunksKey(id string) string { return "bundle:" + id + ":chunks" }
func chunkKey(id string) string        { return "chunk:" + id }
func embeddingKey(id string) string    { return "embedding:" + id }

// ---- bundle persistence ----

func (e *Engine) SaveBundle(ctx context.Context, b *domain.ContextBundle) (*domain.ContextBundle, error) {
	if b == nil {
		return nil, fmt.Errorf("bundle required")
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = e.now().UTC()
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	if err := e.store.Set(ctx, bundleKey(b.ID), string(raw)); err != nil {
		return nil, err
	}
	return b, nil
}

func (e *Engine) GetBundle(ctx context.Context, id string) (*domain.ContextBundle, error) {
	raw, err := e.store.Get(ctx, bundleKey(id))
	if err != nil {
		return nil, err
	}
	var b domain.ContextBundle
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("decode bundle %q: %w", id, err)
	}
	return &b, nil
}

// IndexBundle chunks and embeds every document in the bundle. New chunk and
// embedding records are written first, then the bundle's chunk set is swapped
// to the new ids and the old records are deleted, so a concurrent reader
// always sees a complete generation. Returns the number of chunks indexed.
func (e *Engine) IndexBundle(ctx context.Context, bundleID string) (int, error) {
	if e.ai == nil {
		return 0, fmt.Errorf("embedding service not configured")
	}
	b, err := e.GetBundle(ctx, bundleID)
	if err != nil {
		return 0, err
	}

	type pending struct {
		doc   string
		index int
		text  string
	}
	all := []pending{}
	for _, doc := range b.Documents {
		chunks := ChunkText(CleanText(doc.Text), DefaultChunkSize, DefaultChunkOverlap)
		for i, c := range chunks {
			all = append(all, pending{doc: doc.Name, index: i, text: c})
		}
	}
	if len(all) == 0 {
		return 0, nil
	}

	newIDs := make([]string, 0, len(all))
	for off := 0; off < len(all); off += e.opts.EmbedBatchSize {
		hi := off + e.opts.EmbedBatchSize
		if hi > len(all) {
			hi = len(all)
		}
		batch := all[off:hi]

		inputs := make([]string, len(batch))
		for i, p := range batch {
			inputs[i] = p.text
		}
		vectors, err := e.ai.Embed(ctx, inputs)
		if err != nil {
			return 0, fmt.Errorf("embed bundle %s: %w", bundleID, err)
		}

		for i, p := range batch {
			chunkID := uuid.NewString()
			embID := uuid.NewString()
			chunk := domain.DocumentChunk{
				ID:              chunkID,
				BundleVersionID: bundleID,
				DocumentName:    p.doc,
				Index:           p.index,
				Text:            p.text,
				EmbeddingID:     embID,
				CreatedAt:       e.now().UTC(),
			}
			emb := domain.ChunkEmbedding{ID: embID, ChunkID: chunkID, Vector: vectors[i]}

			rawChunk, err := json.Marshal(chunk)
			if err != nil {
				return 0, err
			}
			rawEmb, err := json.Marshal(emb)
			if err != nil {
				return 0, err
			}
			if err := e.store.Set(ctx, chunkKey(chunkID), string(rawChunk)); err != nil {
				return 0, err
			}
			if err := e.store.Set(ctx, embeddingKey(embID), string(rawEmb)); err != nil {
				return 0, err
			}
			newIDs = append(newIDs, chunkID)
		}
	}

	oldIDs, err := e.store.SMembers(ctx, bundleChunksKey(bundleID))
	if err != nil {
		return 0, err
	}
	if err := e.store.SAdd(ctx, bundleChunksKey(bundleID), newIDs...); err != nil {
		return 0, err
	}
	if len(oldIDs) > 0 {
		if err := e.store.SRem(ctx, bundleChunksKey(bundleID), oldIDs...); err != nil {
			return 0, err
		}
		for _, id := range oldIDs {
			old, err := e.loadChunk(ctx, id)
			if err == nil {
				_ = e.store.Delete(ctx, embeddingKey(old.EmbeddingID))
			}
			_ = e.store.Delete(ctx, chunkKey(id))
		}
	}

	if strings.TrimSpace(b.CourseSummary) == "" {
		if sum, ok := e.ai.(Summarizer); ok {
			e.summarizeBundle(ctx, b, sum)
		}
	}

	e.log.Info("Indexed bundle",
		"bundle_id", bundleID,
		"chunks", len(newIDs),
		"replaced", len(oldIDs),
	)
	return len(newIDs), nil
}

// summarizeBundle fills the course summary used as the retrieval fallback
// when no chunk clears the relevance bar. Best-effort: indexing already
// succeeded, so a failed summary only costs the fallback.
func (e *Engine) summarizeBundle(ctx context.Context, b *domain.ContextBundle, sum Summarizer) {
	var sb strings.Builder
	for _, doc := range b.Documents {
		sb.WriteString("### ")
		sb.WriteString(doc.Name)
		sb.WriteString("\n")
		sb.WriteString(truncateRunes(CleanText(doc.Text), 500))
		sb.WriteString("\n\n")
	}

	summary, err := sum.GenerateText(ctx,
		"You summarize course material for graders. Write a compact overview of the key topics, facts, and figures in the provided documents. Plain prose, no headings.",
		sb.String(),
	)
	if err != nil {
		e.log.Warn("Bundle summary generation failed", "bundle_id", b.ID, "error", err)
		return
	}
	b.CourseSummary = strings.TrimSpace(summary)
	if _, err := e.SaveBundle(ctx, b); err != nil {
		e.log.Warn("Bundle summary save failed", "bundle_id", b.ID, "error", err)
	}
}

func (e *Engine) loadChunk(ctx context.Context, id string) (*domain.DocumentChunk, error) {
	raw, err := e.store.Get(ctx, chunkKey(id))
	if err != nil {
		return nil, err
	}
	var c domain.DocumentChunk
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode chunk %q: %w", id, err)
	}
	return &c, nil
}

func (e *Engine) loadEmbedding(ctx context.Context, id string) (*domain.ChunkEmbedding, error) {
	raw, err := e.store.Get(ctx, embeddingKey(id))
	if err != nil {
		return nil, err
	}
	var emb domain.ChunkEmbedding
	if err := json.Unmarshal([]byte(raw), &emb); err != nil {
		return nil, fmt.Errorf("decode embedding %q: %w", id, err)
	}
	return &emb, nil
}

type candidate struct {
	chunk  *domain.DocumentChunk
	vector []float32
}

func (e *Engine) loadCorpus(ctx context.Context, bundleID string) ([]candidate, error) {
	ids, err := e.store.SMembers(ctx, bundleChunksKey(bundleID))
	if err != nil {
		return nil, err
	}
	out := make([]candidate, 0, len(ids))
	for _, id := range ids {
		chunk, err := e.loadChunk(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		emb, err := e.loadEmbedding(ctx, chunk.EmbeddingID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, candidate{chunk: chunk, vector: emb.Vector})
	}
	return out, nil
}

// ScoredChunk is one retrieval hit.
type ScoredChunk struct {
	Chunk *domain.DocumentChunk
	Score float64
}

// Retrieve scores every candidate chunk against the query with
// 0.7·cosine + 0.3·keyword-overlap, discards hits below minRelevance,
// dedupes by chunk id, and returns the top maxChunks sorted descending.
func (e *Engine) Retrieve(ctx context.Context, bundleID, query string, minRelevance float64, maxChunks int) ([]ScoredChunk, error) {
	if e.ai == nil {
		return nil, fmt.Errorf("embedding service not configured")
	}
	corpus, err := e.loadCorpus(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	if len(corpus) == 0 {
		return []ScoredChunk{}, nil
	}

	vecs, err := e.ai.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	return scoreCorpus(corpus, vecs[0], query, minRelevance, maxChunks), nil
}

func scoreCorpus(corpus []candidate, queryVec []float32, query string, minRelevance float64, maxChunks int) []ScoredChunk {
	keywords := queryKeywords(query)

	seen := map[string]struct{}{}
	hits := []ScoredChunk{}
	for _, cand := range corpus {
		if _, dup := seen[cand.chunk.ID]; dup {
			continue
		}
		seen[cand.chunk.ID] = struct{}{}

		score := semanticWeight*cosineSimilarity(queryVec, cand.vector) +
			keywordWeight*keywordOverlap(keywords, cand.chunk.Text)
		if score < minRelevance {
			continue
		}
		hits = append(hits, ScoredChunk{Chunk: cand.chunk, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	if maxChunks > 0 && len(hits) > maxChunks {
		hits = hits[:maxChunks]
	}
	return hits
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// queryKeywords keeps tokens longer than two characters, lowercased.
func queryKeywords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?()[]\"'")
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}

// keywordOverlap is the fraction of query keywords literally present in the
// chunk text.
func keywordOverlap(keywords []string, text string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	var found int
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			found++
		}
	}
	return float64(found) / float64(len(keywords))
}

// ---- per-criterion retrieval ----

// Result is the assembled grading context: the prompt block, a flat citation
// list for UI display, and quality metrics persisted with the submission.
type Result struct {
	FormattedContext string
	Citations        []domain.Citation
	Metrics          domain.RetrievalMetrics
}

// RetrieveByCriterion retrieves context for every rubric criterion in
// parallel and assembles it under a single character budget shared across
// all criteria — once the budget is spent, remaining criteria simply get no
// citations rather than overflowing the prompt. A criterion whose retrieval
// fails degrades to empty results without aborting the others. When nothing
// relevant is found (or the average relevance is below the minimum) and the
// bundle carries a course summary, the summary is substituted and the result
// is flagged as a fallback: grading should never run with zero grounding
// when any grounding exists.
func (e *Engine) RetrieveByCriterion(ctx context.Context, bundleID string, criteria []domain.RubricCriterion, transcript string) (*Result, error) {
	if e.ai == nil {
		return nil, fmt.Errorf("embedding service not configured")
	}
	bundle, err := e.GetBundle(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	corpus, err := e.loadCorpus(ctx, bundleID)
	if err != nil {
		return nil, err
	}

	prefix := transcriptPrefix(transcript, e.opts.TranscriptPrefixChars)

	perCriterion := make([][]ScoredChunk, len(criteria))
	var wg sync.WaitGroup
	for i, crit := range criteria {
		wg.Add(1)
		go func(i int, crit domain.RubricCriterion) {
			defer wg.Done()
			query := strings.TrimSpace(crit.Name + " " + crit.Description + " " + prefix)

			vecs, err := e.ai.Embed(ctx, []string{query})
			if err != nil {
				e.log.Warn("Criterion retrieval degraded to empty",
					"bundle_id", bundleID,
					"criterion", crit.Name,
					"error", err,
				)
				return
			}
			perCriterion[i] = scoreCorpus(corpus, vecs[0], query, e.opts.MinRelevance, e.opts.MaxChunksPerCriterion)
		}(i, crit)
	}
	wg.Wait()

	res := e.assemble(criteria, perCriterion)

	if res.Metrics.ChunksRetrieved == 0 || res.Metrics.AvgRelevance < e.opts.MinRelevance {
		if summary := strings.TrimSpace(bundle.CourseSummary); summary != "" {
			res.FormattedContext = truncateRunes(summary, e.opts.MaxContextChars)
			res.Citations = []domain.Citation{}
			res.Metrics.UsedFallback = true
			res.Metrics.CharactersUsed = len(res.FormattedContext)
		}
	}
	return res, nil
}

func (e *Engine) assemble(criteria []domain.RubricCriterion, perCriterion [][]ScoredChunk) *Result {
	var sb strings.Builder
	citations := []domain.Citation{}
	var relevanceSum float64
	var kept, highConf int
	budget := e.opts.MaxContextChars

	seen := map[string]struct{}{}
	for i, crit := range criteria {
		hits := perCriterion[i]
		if len(hits) == 0 {
			continue
		}

		section := formatSection(crit.Name, hits)
		if sb.Len()+len(section) > budget {
			continue
		}
		sb.WriteString(section)

		for _, h := range hits {
			relevanceSum += h.Score
			kept++
			if h.Score >= e.opts.HighConfidence {
				highConf++
			}
			if _, dup := seen[h.Chunk.ID]; dup {
				continue
			}
			seen[h.Chunk.ID] = struct{}{}
			citations = append(citations, domain.Citation{
				ChunkID:      h.Chunk.ID,
				DocumentName: h.Chunk.DocumentName,
				Snippet:      truncateRunes(h.Chunk.Text, 200),
				Relevance:    h.Score,
			})
		}
	}

	res := &Result{
		FormattedContext: sb.String(),
		Citations:        citations,
	}
	res.Metrics.ChunksRetrieved = kept
	if kept > 0 {
		res.Metrics.AvgRelevance = relevanceSum / float64(kept)
	}
	res.Metrics.HighConfidenceCount = highConf
	res.Metrics.CharactersUsed = len(res.FormattedContext)
	return res
}

func formatSection(criterionName string, hits []ScoredChunk) string {
	var sb strings.Builder
	sb.WriteString("## Evidence for: ")
	sb.WriteString(criterionName)
	sb.WriteString("\n")
	for _, h := range hits {
		sb.WriteString(fmt.Sprintf("[%s] %s\n", h.Chunk.DocumentName, h.Chunk.Text))
	}
	sb.WriteString("\n")
	return sb.String()
}

func transcriptPrefix(transcript string, limit int) string {
	return truncateRunes(strings.TrimSpace(transcript), limit)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
