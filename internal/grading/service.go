package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/presgrade-backend/internal/clients/openai"
	"github.com/yungbote/presgrade-backend/internal/domain"
	"github.com/yungbote/presgrade-backend/internal/platform/logger"
)

// Service is the grading surface the orchestrator drives. AnalyzeTranscript
// must run first; its output feeds the other three, which are independent of
// each other.
type Service interface {
	AnalyzeTranscript(ctx context.Context, transcript, contextText string) (*domain.ClaimAnalysis, error)
	EvaluateRubric(ctx context.Context, transcript string, analysis *domain.ClaimAnalysis, rubric *domain.Rubric, rubricText, contextText string) (*domain.RubricEvaluation, error)
	GenerateQuestions(ctx context.Context, transcript string, analysis *domain.ClaimAnalysis) ([]domain.Question, error)
	VerifyClaims(ctx context.Context, analysis *domain.ClaimAnalysis, contextText string) ([]domain.VerificationFinding, error)
}

type service struct {
	log *logger.Logger
	ai  openai.Client
}

func NewService(log *logger.Logger, ai openai.Client) (Service, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if ai == nil {
		return nil, fmt.Errorf("openai client required")
	}
	return &service{
		log: log.With("service", "GradingService"),
		ai:  ai,
	}, nil
}

// decodeInto round-trips a generic JSON object into a typed struct.
func decodeInto(obj map[string]any, out any) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func withContext(prompt, contextText string) string {
	if strings.TrimSpace(contextText) == "" {
		return prompt
	}
	return prompt + "\n\nCourse material for grounding:\n" + contextText
}

func (s *service) AnalyzeTranscript(ctx context.Context, transcript, contextText string) (*domain.ClaimAnalysis, error) {
	system := "You analyze student presentation transcripts. Identify the factual claims made, " +
		"gaps in the argument, and points where evidence is asserted but missing. Be specific and cite transcript wording."
	user := withContext("Transcript:\n"+transcript, contextText)

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"claims": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text":       map[string]any{"type": "string"},
						"timestamp":  map[string]any{"type": []string{"number", "null"}},
						"confidence": map[string]any{"type": []string{"number", "null"}},
					},
					"required":             []string{"text", "timestamp", "confidence"},
					"additionalProperties": false,
				},
			},
			"gaps":             map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"missing_evidence": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required":             []string{"claims", "gaps", "missing_evidence"},
		"additionalProperties": false,
	}

	obj, err := s.ai.GenerateJSON(ctx, system, user, "claim_analysis", schema)
	if err != nil {
		return nil, fmt.Errorf("analyze transcript: %w", err)
	}
	var out domain.ClaimAnalysis
	if err := decodeInto(obj, &out); err != nil {
		return nil, fmt.Errorf("decode claim analysis: %w", err)
	}
	return &out, nil
}

func (s *service) EvaluateRubric(ctx context.Context, transcript string, analysis *domain.ClaimAnalysis, rubric *domain.Rubric, rubricText, contextText string) (*domain.RubricEvaluation, error) {
	system := "You grade student presentations against a rubric. Score each criterion, justify every score " +
		"with transcript or course-material citations, and list concrete strengths and improvements."

	var sb strings.Builder
	sb.WriteString("Rubric:\n")
	if rubric != nil && len(rubric.Criteria) > 0 {
		for _, c := range rubric.Criteria {
			fmt.Fprintf(&sb, "- %s (max %.1f): %s\n", c.Name, c.MaxScore, c.Description)
		}
	} else if strings.TrimSpace(rubricText) != "" {
		sb.WriteString(rubricText)
		sb.WriteString("\n")
	} else {
		sb.WriteString("Use a general presentation-quality rubric scored out of 100.\n")
	}
	sb.WriteString("\nTranscript:\n")
	sb.WriteString(transcript)
	if analysis != nil {
		if raw, err := json.Marshal(analysis); err == nil {
			sb.WriteString("\n\nPrior claim analysis:\n")
			sb.Write(raw)
		}
	}
	user := withContext(sb.String(), contextText)

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"overall_score": map[string]any{"type": "number"},
			"max_score":     map[string]any{"type": "number"},
			"criteria": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":      map[string]any{"type": "string"},
						"score":     map[string]any{"type": "number"},
						"max_score": map[string]any{"type": "number"},
						"feedback":  map[string]any{"type": "string"},
						"citations": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
					"required":             []string{"name", "score", "max_score", "feedback", "citations"},
					"additionalProperties": false,
				},
			},
			"strengths":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"improvements": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"feedback":     map[string]any{"type": "string"},
		},
		"required":             []string{"overall_score", "max_score", "criteria", "strengths", "improvements", "feedback"},
		"additionalProperties": false,
	}

	obj, err := s.ai.GenerateJSON(ctx, system, user, "rubric_evaluation", schema)
	if err != nil {
		return nil, fmt.Errorf("evaluate rubric: %w", err)
	}
	var out domain.RubricEvaluation
	if err := decodeInto(obj, &out); err != nil {
		return nil, fmt.Errorf("decode rubric evaluation: %w", err)
	}
	if out.OverallScore == nil {
		return nil, fmt.Errorf("rubric evaluation missing overall score")
	}
	return &out, nil
}

func (s *service) GenerateQuestions(ctx context.Context, transcript string, analysis *domain.ClaimAnalysis) ([]domain.Question, error) {
	system := "You write follow-up questions an instructor could ask after a student presentation. " +
		"Target weak claims, gaps, and missing evidence."

	var sb strings.Builder
	sb.WriteString("Transcript:\n")
	sb.WriteString(transcript)
	if analysis != nil {
		if raw, err := json.Marshal(analysis); err == nil {
			sb.WriteString("\n\nClaim analysis:\n")
			sb.Write(raw)
		}
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question": map[string]any{"type": "string"},
						"purpose":  map[string]any{"type": "string"},
						"based_on": map[string]any{"type": "string"},
					},
					"required":             []string{"question", "purpose", "based_on"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"questions"},
		"additionalProperties": false,
	}

	obj, err := s.ai.GenerateJSON(ctx, system, sb.String(), "generated_questions", schema)
	if err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}
	var out struct {
		Questions []domain.Question `json:"questions"`
	}
	if err := decodeInto(obj, &out); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	return out.Questions, nil
}

func (s *service) VerifyClaims(ctx context.Context, analysis *domain.ClaimAnalysis, contextText string) ([]domain.VerificationFinding, error) {
	if analysis == nil || len(analysis.Claims) == 0 {
		return []domain.VerificationFinding{}, nil
	}

	system := "You verify factual claims from a student presentation. For each claim return a verdict of " +
		"supported, contradicted, or unverifiable, with a short explanation and any supporting evidence."

	var sb strings.Builder
	sb.WriteString("Claims:\n")
	for _, c := range analysis.Claims {
		sb.WriteString("- ")
		sb.WriteString(c.Text)
		sb.WriteString("\n")
	}
	user := withContext(sb.String(), contextText)

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"findings": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"claim":       map[string]any{"type": "string"},
						"verdict":     map[string]any{"type": "string", "enum": []string{"supported", "contradicted", "unverifiable"}},
						"explanation": map[string]any{"type": "string"},
						"evidence":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
					"required":             []string{"claim", "verdict", "explanation", "evidence"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"findings"},
		"additionalProperties": false,
	}

	obj, err := s.ai.GenerateJSON(ctx, system, user, "claim_verification", schema)
	if err != nil {
		return nil, fmt.Errorf("verify claims: %w", err)
	}
	var out struct {
		Findings []domain.VerificationFinding `json:"findings"`
	}
	if err := decodeInto(obj, &out); err != nil {
		return nil, fmt.Errorf("decode verification findings: %w", err)
	}
	return out.Findings, nil
}
