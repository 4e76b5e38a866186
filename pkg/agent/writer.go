package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// shortAnswerWordLimit caps the short answer.
const shortAnswerWordLimit = 150

// Writer turns the claim, its evidence, and the preliminary verdict into the
// final prose: short answer, deep answer, why-it-persists list, and the
// confidence grade.
type Writer struct{}

func (Writer) Name() string { return AgentWriter }

type writerOutput struct {
	ShortAnswer           string   `json:"short_answer"`
	DeepAnswer            string   `json:"deep_answer"`
	WhyPersists           []string `json:"why_persists"`
	ConfidenceLevel       string   `json:"confidence_level"`
	ConfidenceExplanation string   `json:"confidence_explanation"`
}

// Execute implements Agent.
func (a Writer) Execute(ctx context.Context, execCtx *ExecutionContext, state State) (State, error) {
	cfg, err := loadConfig(ctx, execCtx, a.Name())
	if err != nil {
		return nil, err
	}
	claimText, err := requireString(a.Name(), state, KeyClaimText)
	if err != nil {
		return nil, err
	}
	verdict, ok := state[KeyPreliminaryVerdict].(models.Verdict)
	if !ok {
		return nil, NewBadInput(a.Name(), KeyPreliminaryVerdict)
	}
	sources, ok := state[KeySources].([]models.Source)
	if !ok {
		return nil, NewBadInput(a.Name(), KeySources)
	}
	notes, _ := state[KeyReverificationNotes].(map[string]any)

	var out writerOutput
	err = runStage(execCtx, a.Name(), func() error {
		evidence, err := json.Marshal(summarizeSources(sources))
		if err != nil {
			return NewError(a.Name(), ClassParseError, err)
		}
		findings, err := json.Marshal(notes)
		if err != nil {
			return NewError(a.Name(), ClassParseError, err)
		}

		userPrompt := fmt.Sprintf("Claim: %s\nPreliminary verdict: %s\n\nEvidence:\n%s\n\n"+
			"Reverification notes:\n%s\n\n"+
			"Write the audit prose. The short answer must be self-contained and at "+
			"most %d words. Do not refer to \"provided quotes\" unless you include a "+
			"verbatim quote inline.\n\n"+
			"Respond with JSON: {\"short_answer\": \"...\", \"deep_answer\": \"...\", "+
			"\"why_persists\": [\"...\"], \"confidence_level\": \"HIGH|MEDIUM|LOW\", "+
			"\"confidence_explanation\": \"...\"}",
			claimText, verdict, evidence, findings, shortAnswerWordLimit)

		if err := callLLM(ctx, execCtx, a.Name(), cfg, userPrompt, &out); err != nil {
			return err
		}

		if strings.TrimSpace(out.ShortAnswer) == "" {
			return NewError(a.Name(), ClassParseError, fmt.Errorf("empty short_answer"))
		}
		if words := len(strings.Fields(out.ShortAnswer)); words > shortAnswerWordLimit {
			return NewError(a.Name(), ClassParseError,
				fmt.Errorf("short_answer has %d words, limit is %d", words, shortAnswerWordLimit))
		}
		if !models.ConfidenceLevel(out.ConfidenceLevel).IsValid() {
			return NewError(a.Name(), ClassParseError,
				fmt.Errorf("unknown confidence level %q", out.ConfidenceLevel))
		}
		if !models.VerdictConsistentWithProse(verdict, out.ShortAnswer) {
			return NewError(a.Name(), ClassParseError,
				fmt.Errorf("short_answer stance contradicts verdict %s", verdict))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := state.Clone()
	result[KeyShortAnswer] = out.ShortAnswer
	result[KeyDeepAnswer] = out.DeepAnswer
	result[KeyWhyPersists] = out.WhyPersists
	result[KeyConfidenceLevel] = models.ConfidenceLevel(out.ConfidenceLevel)
	result[KeyConfidenceExplanation] = out.ConfidenceExplanation
	return result, nil
}
