package grading

import (
	"context"
	"strings"
	"testing"

	"github.com/yungbote/presgrade-backend/internal/domain"
	"github.com/yungbote/presgrade-backend/internal/platform/logger"
)

// fakeAI replays canned JSON objects keyed by schema name and records the
// prompts it saw.
type fakeAI struct {
	responses map[string]map[string]any
	lastUser  map[string]string
}

func (f *fakeAI) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

func (f *fakeAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	if f.lastUser == nil {
		f.lastUser = map[string]string{}
	}
	f.lastUser[schemaName] = user
	return f.responses[schemaName], nil
}

func (f *fakeAI) GenerateText(ctx context.Context, system, user string) (string, error) {
	return "", nil
}

func newService(t *testing.T, ai *fakeAI) Service {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })
	svc, err := NewService(log, ai)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestAnalyzeTranscriptDecodes(t *testing.T) {
	ai := &fakeAI{responses: map[string]map[string]any{
		"claim_analysis": {
			"claims": []any{
				map[string]any{"text": "solar doubled", "timestamp": 12.5, "confidence": 0.9},
				map[string]any{"text": "costs fell", "timestamp": nil, "confidence": nil},
			},
			"gaps":             []any{"no source for cost figure"},
			"missing_evidence": []any{},
		},
	}}
	svc := newService(t, ai)

	got, err := svc.AnalyzeTranscript(context.Background(), "transcript text", "course context")
	if err != nil {
		t.Fatalf("AnalyzeTranscript: %v", err)
	}
	if len(got.Claims) != 2 {
		t.Fatalf("claims: want=2 got=%d", len(got.Claims))
	}
	if got.Claims[0].Timestamp == nil || *got.Claims[0].Timestamp != 12.5 {
		t.Fatalf("timestamp: got=%v", got.Claims[0].Timestamp)
	}
	if got.Claims[1].Timestamp != nil {
		t.Fatalf("null timestamp should decode to nil")
	}
	if len(got.Gaps) != 1 {
		t.Fatalf("gaps: want=1 got=%d", len(got.Gaps))
	}

	// The grounding context must ride along in the prompt.
	user := ai.lastUser["claim_analysis"]
	if user == "" || !strings.Contains(user, "course context") {
		t.Fatalf("context not included in prompt: %q", user)
	}
}

func TestEvaluateRubricRequiresOverallScore(t *testing.T) {
	ai := &fakeAI{responses: map[string]map[string]any{
		"rubric_evaluation": {
			"max_score":    100.0,
			"criteria":     []any{},
			"strengths":    []any{},
			"improvements": []any{},
			"feedback":     "fine",
		},
	}}
	svc := newService(t, ai)

	_, err := svc.EvaluateRubric(context.Background(), "t", nil, nil, "", "")
	if err == nil {
		t.Fatalf("expected error for missing overall_score")
	}
}

func TestEvaluateRubricDecodes(t *testing.T) {
	ai := &fakeAI{responses: map[string]map[string]any{
		"rubric_evaluation": {
			"overall_score": 71.5,
			"max_score":     100.0,
			"criteria": []any{
				map[string]any{"name": "Clarity", "score": 40.0, "max_score": 50.0, "feedback": "clear", "citations": []any{"slide 2"}},
			},
			"strengths":    []any{"good pacing"},
			"improvements": []any{"cite sources"},
			"feedback":     "solid",
		},
	}}
	svc := newService(t, ai)

	rubric := &domain.Rubric{Criteria: []domain.RubricCriterion{{Name: "Clarity", MaxScore: 50}}}
	got, err := svc.EvaluateRubric(context.Background(), "t", &domain.ClaimAnalysis{}, rubric, "", "ctx")
	if err != nil {
		t.Fatalf("EvaluateRubric: %v", err)
	}
	if got.OverallScore == nil || *got.OverallScore != 71.5 {
		t.Fatalf("overall: got=%v", got.OverallScore)
	}
	if len(got.Criteria) != 1 || got.Criteria[0].Name != "Clarity" {
		t.Fatalf("criteria: got=%+v", got.Criteria)
	}
}

func TestVerifyClaimsShortCircuitsOnNoClaims(t *testing.T) {
	ai := &fakeAI{responses: map[string]map[string]any{}}
	svc := newService(t, ai)

	got, err := svc.VerifyClaims(context.Background(), &domain.ClaimAnalysis{}, "")
	if err != nil {
		t.Fatalf("VerifyClaims: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("want no findings, got=%d", len(got))
	}
	if len(ai.lastUser) != 0 {
		t.Fatalf("model called despite empty claims")
	}
}

func TestGenerateQuestionsDecodes(t *testing.T) {
	ai := &fakeAI{responses: map[string]map[string]any{
		"generated_questions": {
			"questions": []any{
				map[string]any{"question": "What is your source?", "purpose": "probe evidence", "based_on": "claim 1"},
			},
		},
	}}
	svc := newService(t, ai)

	got, err := svc.GenerateQuestions(context.Background(), "t", nil)
	if err != nil {
		t.Fatalf("GenerateQuestions: %v", err)
	}
	if len(got) != 1 || got[0].Question != "What is your source?" {
		t.Fatalf("questions: got=%+v", got)
	}
}
