package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/EckmanTechLLC/thereceipts/pkg/models"
	"github.com/EckmanTechLLC/thereceipts/pkg/sourceverify"
)

// SourceChecker enumerates 3-8 candidate sources for the claim and routes
// each through the six-tier verification service. URLs come only from
// verification — an unverifiable URL stays an empty string, never a guess.
type SourceChecker struct{}

func (SourceChecker) Name() string { return AgentSourceChecker }

// candidateSource is the LLM's proposal before verification.
type candidateSource struct {
	Title        string `json:"title"`
	Author       string `json:"author"`
	Identifier   string `json:"identifier"`
	Domain       string `json:"domain"` // book | paper | ancient | web
	SourceType   string `json:"source_type"`
	UsageContext string `json:"usage_context"`
	Keywords     string `json:"keywords"`
}

type sourceCheckerProposal struct {
	Candidates []candidateSource `json:"candidates"`
}

// Execute implements Agent.
func (a SourceChecker) Execute(ctx context.Context, execCtx *ExecutionContext, state State) (State, error) {
	cfg, err := loadConfig(ctx, execCtx, a.Name())
	if err != nil {
		return nil, err
	}
	claimText, err := requireString(a.Name(), state, KeyClaimText)
	if err != nil {
		return nil, err
	}
	claimType, _ := state[KeyClaimType].(string)

	var sources []models.Source
	err = runStage(execCtx, a.Name(), func() error {
		userPrompt := fmt.Sprintf("Claim under audit: %s\nClaim type: %s\n\n"+
			"Propose between 3 and 8 real sources bearing on this claim, favoring "+
			"primary historical documents and peer-reviewed scholarship on both sides. "+
			"For each, state what it is used to establish.\n\n"+
			"Respond with JSON: {\"candidates\": [{\"title\": \"...\", \"author\": \"...\", "+
			"\"identifier\": \"ISBN/DOI or empty\", \"domain\": \"book|paper|ancient|web\", "+
			"\"source_type\": \"PRIMARY_HISTORICAL|SCHOLARLY_PEER_REVIEWED\", "+
			"\"usage_context\": \"used to establish ...\", \"keywords\": \"...\"}]}",
			claimText, claimType)

		var proposal sourceCheckerProposal
		if err := callLLM(ctx, execCtx, a.Name(), cfg, userPrompt, &proposal); err != nil {
			return err
		}
		if len(proposal.Candidates) < 3 || len(proposal.Candidates) > 8 {
			return NewError(a.Name(), ClassParseError,
				fmt.Errorf("expected 3-8 candidate sources, got %d", len(proposal.Candidates)))
		}

		sources = make([]models.Source, 0, len(proposal.Candidates))
		for _, candidate := range proposal.Candidates {
			if strings.TrimSpace(candidate.UsageContext) == "" {
				return NewError(a.Name(), ClassParseError,
					fmt.Errorf("candidate %q missing usage_context", candidate.Title))
			}

			record, err := execCtx.Verifier.Verify(ctx, sourceverify.DesiredSource{
				Title:         candidate.Title,
				Author:        candidate.Author,
				Identifier:    candidate.Identifier,
				Domain:        parseDomain(candidate.Domain),
				SourceType:    parseSourceType(candidate.SourceType),
				ClaimText:     claimText,
				ClaimKeywords: candidate.Keywords,
			})
			if err != nil {
				return asAgentError(a.Name(), err)
			}

			sources = append(sources, models.Source{
				Citation:           record.Citation,
				URL:                record.URL,
				QuoteText:          record.QuoteText,
				UsageContext:       candidate.UsageContext,
				SourceType:         parseSourceType(candidate.SourceType),
				VerificationMethod: record.Method,
				VerificationStatus: record.Status,
				ContentType:        record.ContentType,
				URLVerified:        record.URLVerified,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := state.Clone()
	result[KeySources] = sources
	return result, nil
}

func parseDomain(s string) sourceverify.Domain {
	switch strings.ToLower(s) {
	case "book":
		return sourceverify.DomainBook
	case "paper":
		return sourceverify.DomainPaper
	case "ancient":
		return sourceverify.DomainAncient
	default:
		return sourceverify.DomainWeb
	}
}

func parseSourceType(s string) models.SourceType {
	if strings.EqualFold(s, string(models.SourcePrimaryHistorical)) {
		return models.SourcePrimaryHistorical
	}
	return models.SourceScholarlyPeerReviewed
}
