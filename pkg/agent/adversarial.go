package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// AdversarialChecker evaluates whether the CLAIM is factually accurate given
// the evidence — the verdict is about the claim, not about the evidence. It
// re-verifies every source through the verification service, annotates
// discrepancies into reverification notes, and produces the preliminary
// verdict. Discrepancies never fail the pipeline.
type AdversarialChecker struct{}

func (AdversarialChecker) Name() string { return AgentAdversarialChecker }

type adversarialOutput struct {
	PreliminaryVerdict string `json:"preliminary_verdict"`
	Reasoning          string `json:"reasoning"`
}

// Execute implements Agent.
func (a AdversarialChecker) Execute(ctx context.Context, execCtx *ExecutionContext, state State) (State, error) {
	cfg, err := loadConfig(ctx, execCtx, a.Name())
	if err != nil {
		return nil, err
	}
	claimText, err := requireString(a.Name(), state, KeyClaimText)
	if err != nil {
		return nil, err
	}
	sources, ok := state[KeySources].([]models.Source)
	if !ok || len(sources) == 0 {
		return nil, NewBadInput(a.Name(), KeySources)
	}

	var out adversarialOutput
	notes := make(map[string]any)
	err = runStage(execCtx, a.Name(), func() error {
		// Re-verify each source: quote overlap and URL reachability.
		flagged := 0
		for i, src := range sources {
			result := execCtx.Verifier.ReVerify(ctx, src)
			if result.Flagged() {
				flagged++
				key := fmt.Sprintf("source_%d", i+1)
				notes[key] = map[string]any{
					"citation":        src.Citation,
					"quote_supported": result.QuoteSupported,
					"quote_overlap":   result.QuoteOverlap,
					"url_reachable":   result.URLReachable,
					"url_matches":     result.URLMatches,
					"note":            result.Note,
				}
			}
		}

		evidence, err := json.Marshal(summarizeSources(sources))
		if err != nil {
			return NewError(a.Name(), ClassParseError, err)
		}
		findings, err := json.Marshal(notes)
		if err != nil {
			return NewError(a.Name(), ClassParseError, err)
		}

		userPrompt := fmt.Sprintf("Claim under audit: %s\n\nEvidence:\n%s\n\n"+
			"Reverification findings (%d of %d sources flagged):\n%s\n\n"+
			"Evaluate whether the CLAIM is factually accurate given the evidence. "+
			"The verdict is about the claim, not about the evidence. Treat flagged "+
			"sources with reduced weight and reflect any discrepancy in the verdict.\n\n"+
			"Respond with JSON: {\"preliminary_verdict\": "+
			"\"TRUE|MISLEADING|FALSE|UNFALSIFIABLE|DEPENDS_ON_DEFINITIONS\", "+
			"\"reasoning\": \"...\"}",
			claimText, evidence, flagged, len(sources), findings)

		if err := callLLM(ctx, execCtx, a.Name(), cfg, userPrompt, &out); err != nil {
			return err
		}
		if !models.Verdict(out.PreliminaryVerdict).IsValid() {
			return NewError(a.Name(), ClassParseError,
				fmt.Errorf("unknown verdict %q", out.PreliminaryVerdict))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := state.Clone()
	result[KeyPreliminaryVerdict] = models.Verdict(out.PreliminaryVerdict)
	result[KeyReverificationNotes] = notes
	return result, nil
}

// summarizeSources renders the evidence for the prompt without the full
// verification metadata.
func summarizeSources(sources []models.Source) []map[string]string {
	out := make([]map[string]string, len(sources))
	for i, src := range sources {
		out[i] = map[string]string{
			"citation":      src.Citation,
			"quote_text":    src.QuoteText,
			"usage_context": src.UsageContext,
			"verification":  string(src.VerificationStatus),
		}
	}
	return out
}
