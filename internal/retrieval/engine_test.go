package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/yungbote/presgrade-backend/internal/domain"
	"github.com/yungbote/presgrade-backend/internal/platform/logger"
	"github.com/yungbote/presgrade-backend/internal/store"
)

// stubEmbedder maps text onto a tiny topic space so similarity is
// deterministic: axis 0 is "solar", axis 1 is "wind", axis 2 is a constant
// so no vector is ever zero.
type stubEmbedder struct {
	calls int
}

func (s *stubEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	s.calls++
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		lower := strings.ToLower(in)
		v := []float32{0, 0, 0.1}
		if strings.Contains(lower, "solar") {
			v[0] = 1
		}
		if strings.Contains(lower, "wind") {
			v[1] = 1
		}
		out[i] = v
	}
	return out, nil
}

func testEngine(t *testing.T, opts *Options) (*Engine, *stubEmbedder) {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })
	emb := &stubEmbedder{}
	return NewEngine(store.NewMemoryStore(), emb, log, opts), emb
}

func seedBundle(t *testing.T, e *Engine) *domain.ContextBundle {
	t.Helper()
	ctx := context.Background()
	b, err := e.SaveBundle(ctx, &domain.ContextBundle{
		CourseID:      "energy-101",
		CourseSummary: "An introductory course on renewable energy systems and their economics.",
		Documents: []domain.BundleDocument{
			{Name: "solar.md", Text: "Solar photovoltaic capacity doubled over the study period. Solar output peaks at midday."},
			{Name: "wind.md", Text: "Wind turbine efficiency depends on blade length. Offshore wind farms face higher costs."},
			{Name: "notes.md", Text: "General grading notes about citation quality and delivery pace."},
		},
	})
	if err != nil {
		t.Fatalf("SaveBundle: %v", err)
	}
	n, err := e.IndexBundle(ctx, b.ID)
	if err != nil {
		t.Fatalf("IndexBundle: %v", err)
	}
	if n != 3 {
		t.Fatalf("chunks indexed: want=3 got=%d", n)
	}
	return b
}

func TestRetrieveRanksByTopic(t *testing.T) {
	e, _ := testEngine(t, nil)
	b := seedBundle(t, e)

	hits, err := e.Retrieve(context.Background(), b.ID, "solar panel output", 0.3, 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(hits) == 0 {
		t.Fatalf("no hits for on-topic query")
	}
	if hits[0].Chunk.DocumentName != "solar.md" {
		t.Fatalf("top hit: want=solar.md got=%s", hits[0].Chunk.DocumentName)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Fatalf("hits not sorted descending at %d", i)
		}
	}
}

func TestRetrieveFiltersByMinRelevance(t *testing.T) {
	e, _ := testEngine(t, nil)
	b := seedBundle(t, e)

	hits, err := e.Retrieve(context.Background(), b.ID, "solar", 0.99, 10)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for _, h := range hits {
		if h.Score < 0.99 {
			t.Fatalf("hit below threshold leaked through: %f", h.Score)
		}
	}
}

func TestRetrieveRaisingThresholdNeverReturnsMore(t *testing.T) {
	e, _ := testEngine(t, nil)
	b := seedBundle(t, e)
	ctx := context.Background()

	low, err := e.Retrieve(ctx, b.ID, "solar panel output", 0.1, 10)
	if err != nil {
		t.Fatalf("Retrieve low: %v", err)
	}
	high, err := e.Retrieve(ctx, b.ID, "solar panel output", 0.6, 10)
	if err != nil {
		t.Fatalf("Retrieve high: %v", err)
	}

	if len(high) > len(low) {
		t.Fatalf("raising threshold grew results: low=%d high=%d", len(low), len(high))
	}
	// Everything surviving the higher bar must also survive the lower one.
	kept := map[string]struct{}{}
	for _, h := range low {
		kept[h.Chunk.ID] = struct{}{}
	}
	for _, h := range high {
		if _, ok := kept[h.Chunk.ID]; !ok {
			t.Fatalf("chunk %s returned at 0.6 but not at 0.1", h.Chunk.ID)
		}
	}
}

// stubSummarizer embeds like stubEmbedder and can also write summaries.
type stubSummarizer struct {
	stubEmbedder
	summaryCalls int
}

func (s *stubSummarizer) GenerateText(ctx context.Context, system, user string) (string, error) {
	s.summaryCalls++
	return "A generated overview of renewable energy topics.", nil
}

func TestIndexBundleGeneratesMissingSummary(t *testing.T) {
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })
	ai := &stubSummarizer{}
	e := NewEngine(store.NewMemoryStore(), ai, log, nil)
	ctx := context.Background()

	b, err := e.SaveBundle(ctx, &domain.ContextBundle{
		CourseID: "energy-101",
		Documents: []domain.BundleDocument{
			{Name: "solar.md", Text: "Solar photovoltaic capacity doubled over the study period."},
		},
	})
	if err != nil {
		t.Fatalf("SaveBundle: %v", err)
	}
	if _, err := e.IndexBundle(ctx, b.ID); err != nil {
		t.Fatalf("IndexBundle: %v", err)
	}

	got, err := e.GetBundle(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBundle: %v", err)
	}
	if got.CourseSummary != "A generated overview of renewable energy topics." {
		t.Fatalf("summary not generated: %q", got.CourseSummary)
	}
	if ai.summaryCalls != 1 {
		t.Fatalf("summary calls: want=1 got=%d", ai.summaryCalls)
	}
}

func TestIndexBundleKeepsExistingSummary(t *testing.T) {
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })
	ai := &stubSummarizer{}
	e := NewEngine(store.NewMemoryStore(), ai, log, nil)
	b := seedBundle(t, e)

	got, err := e.GetBundle(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("GetBundle: %v", err)
	}
	if !strings.Contains(got.CourseSummary, "introductory course") {
		t.Fatalf("existing summary overwritten: %q", got.CourseSummary)
	}
	if ai.summaryCalls != 0 {
		t.Fatalf("summary regenerated despite existing one: %d calls", ai.summaryCalls)
	}
}

func TestIndexBundleReplacesPriorGeneration(t *testing.T) {
	e, _ := testEngine(t, nil)
	b := seedBundle(t, e)
	ctx := context.Background()

	b.Documents = []domain.BundleDocument{
		{Name: "only.md", Text: "Wind power economics in coastal regions."},
	}
	if _, err := e.SaveBundle(ctx, b); err != nil {
		t.Fatalf("SaveBundle: %v", err)
	}
	n, err := e.IndexBundle(ctx, b.ID)
	if err != nil {
		t.Fatalf("IndexBundle: %v", err)
	}
	if n != 1 {
		t.Fatalf("chunks after reindex: want=1 got=%d", n)
	}

	corpus, err := e.loadCorpus(ctx, b.ID)
	if err != nil {
		t.Fatalf("loadCorpus: %v", err)
	}
	if len(corpus) != 1 {
		t.Fatalf("corpus after reindex: want=1 got=%d", len(corpus))
	}
	if corpus[0].chunk.DocumentName != "only.md" {
		t.Fatalf("stale chunk survived reindex: %s", corpus[0].chunk.DocumentName)
	}
}

func TestRetrieveByCriterionAssemblesSections(t *testing.T) {
	e, _ := testEngine(t, nil)
	b := seedBundle(t, e)

	criteria := []domain.RubricCriterion{
		{Name: "Solar coverage", Description: "Discusses solar capacity trends"},
		{Name: "Wind coverage", Description: "Discusses wind generation"},
	}
	res, err := e.RetrieveByCriterion(context.Background(), b.ID, criteria, "My talk covers solar and wind energy.")
	if err != nil {
		t.Fatalf("RetrieveByCriterion: %v", err)
	}
	if res.Metrics.UsedFallback {
		t.Fatalf("fallback used despite relevant chunks")
	}
	if !strings.Contains(res.FormattedContext, "## Evidence for: Solar coverage") {
		t.Fatalf("solar section missing:\n%s", res.FormattedContext)
	}
	if !strings.Contains(res.FormattedContext, "## Evidence for: Wind coverage") {
		t.Fatalf("wind section missing:\n%s", res.FormattedContext)
	}
	if len(res.Citations) == 0 {
		t.Fatalf("no citations recorded")
	}
	for _, c := range res.Citations {
		if c.ChunkID == "" || c.DocumentName == "" {
			t.Fatalf("citation missing attribution: %+v", c)
		}
	}
	if res.Metrics.ChunksRetrieved == 0 || res.Metrics.AvgRelevance <= 0 {
		t.Fatalf("metrics not computed: %+v", res.Metrics)
	}
	if res.Metrics.CharactersUsed != len(res.FormattedContext) {
		t.Fatalf("characters used: want=%d got=%d", len(res.FormattedContext), res.Metrics.CharactersUsed)
	}
}

func TestRetrieveByCriterionRespectsBudget(t *testing.T) {
	budget := 120
	e, _ := testEngine(t, &Options{MaxContextChars: budget})
	b := seedBundle(t, e)

	criteria := []domain.RubricCriterion{
		{Name: "Solar coverage", Description: "solar capacity"},
		{Name: "Wind coverage", Description: "wind generation"},
	}
	res, err := e.RetrieveByCriterion(context.Background(), b.ID, criteria, "solar and wind")
	if err != nil {
		t.Fatalf("RetrieveByCriterion: %v", err)
	}
	if len(res.FormattedContext) > budget {
		t.Fatalf("context %d chars exceeds budget %d", len(res.FormattedContext), budget)
	}
}

func TestRetrieveByCriterionFallsBackToSummary(t *testing.T) {
	e, _ := testEngine(t, &Options{MinRelevance: 0.99})
	b := seedBundle(t, e)

	criteria := []domain.RubricCriterion{
		{Name: "Historiography", Description: "Use of primary sources"},
	}
	res, err := e.RetrieveByCriterion(context.Background(), b.ID, criteria, "A talk about medieval trade routes.")
	if err != nil {
		t.Fatalf("RetrieveByCriterion: %v", err)
	}
	if !res.Metrics.UsedFallback {
		t.Fatalf("expected summary fallback for off-topic talk")
	}
	if !strings.Contains(res.FormattedContext, "introductory course on renewable energy") {
		t.Fatalf("fallback context is not the course summary: %q", res.FormattedContext)
	}
	if len(res.Citations) != 0 {
		t.Fatalf("fallback must carry no citations, got=%d", len(res.Citations))
	}
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 1},
		{[]float32{1, 0}, []float32{0, 1}, 0},
		{[]float32{1, 0}, []float32{-1, 0}, -1},
		{nil, []float32{1}, 0},
		{[]float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tc := range cases {
		got := cosineSimilarity(tc.a, tc.b)
		if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("cosineSimilarity(%v, %v): want=%v got=%v", tc.a, tc.b, tc.want, got)
		}
	}
}

func TestKeywordOverlap(t *testing.T) {
	kws := queryKeywords("Solar panel efficiency, at scale!")
	if len(kws) != 4 {
		t.Fatalf("keywords: want=4 got=%v", kws)
	}
	if got := keywordOverlap(kws, "solar panels improve EFFICIENCY at any scale"); got != 1 {
		t.Fatalf("full overlap: want=1 got=%v", got)
	}
	if got := keywordOverlap(kws, "completely unrelated text"); got != 0 {
		t.Fatalf("no overlap: want=0 got=%v", got)
	}
	if got := keywordOverlap(nil, "anything"); got != 0 {
		t.Fatalf("empty keywords: want=0 got=%v", got)
	}
}
