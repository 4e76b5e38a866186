package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EckmanTechLLC/thereceipts/pkg/agent"
	"github.com/EckmanTechLLC/thereceipts/pkg/models"
	"github.com/EckmanTechLLC/thereceipts/pkg/router"
)

type fakeAnalyzer struct {
	reformulated string
}

func (a fakeAnalyzer) Reformulate(_ context.Context, _ string, question string, _ []models.ChatMessage) (string, error) {
	if a.reformulated != "" {
		return a.reformulated, nil
	}
	return question, nil
}

type fakeRouter struct {
	decision *router.Decision
}

func (r fakeRouter) Route(context.Context, string, string, string, []models.ChatMessage) (*router.Decision, error) {
	return r.decision, nil
}

type fakePipeline struct {
	mu   sync.Mutex
	runs []string
	done chan struct{}
}

func (p *fakePipeline) Run(_ context.Context, _ *agent.ExecutionContext, question string) (*models.ClaimCard, error) {
	p.mu.Lock()
	p.runs = append(p.runs, question)
	p.mu.Unlock()
	if p.done != nil {
		close(p.done)
	}
	return &models.ClaimCard{ID: "new-card"}, nil
}

func newChatServer(t *testing.T, decision *router.Decision, pipe *fakePipeline) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewServer(Deps{
		Analyzer: fakeAnalyzer{},
		Router:   fakeRouter{decision: decision},
		Pipeline: pipe,
	})
}

func postAsk(t *testing.T, s *Server, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/chat/ask", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestAsk_ExactMatch(t *testing.T) {
	card := &models.ClaimCard{ID: "c1", ClaimText: "Luke used Mark as a source",
		Verdict: models.VerdictTrue, ShortAnswer: "This claim is true."}
	s := newChatServer(t, &router.Decision{
		Mode: models.ModeExactMatch, Card: card, DecisionID: "d1",
	}, &fakePipeline{})

	w := postAsk(t, s, AskRequest{Question: "Did Luke copy Mark?"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Mode              models.RoutingMode `json:"mode"`
		RoutingDecisionID string             `json:"routing_decision_id"`
		Response          struct {
			Type      string            `json:"type"`
			ClaimCard *models.ClaimCard `json:"claim_card"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.ModeExactMatch, resp.Mode)
	assert.Equal(t, "d1", resp.RoutingDecisionID)
	assert.Equal(t, "exact_match", resp.Response.Type)
	assert.Equal(t, "c1", resp.Response.ClaimCard.ID)
}

func TestAsk_Contextual(t *testing.T) {
	s := newChatServer(t, &router.Decision{
		Mode:      models.ModeContextual,
		Synthesis: "Geology is the stronger line of evidence.",
		SourceCards: []*models.ClaimCard{
			{ID: "c1"}, {ID: "c2"},
		},
		DecisionID: "d2",
	}, &fakePipeline{})

	w := postAsk(t, s, AskRequest{Question: "Which is stronger?"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Mode     models.RoutingMode `json:"mode"`
		Response struct {
			Type                string              `json:"type"`
			SynthesizedResponse string              `json:"synthesized_response"`
			SourceCards         []*models.ClaimCard `json:"source_cards"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "contextual", resp.Response.Type)
	assert.Len(t, resp.Response.SourceCards, 2)
}

func TestAsk_NovelClaimStartsPipeline(t *testing.T) {
	pipe := &fakePipeline{done: make(chan struct{})}
	s := newChatServer(t, &router.Decision{
		Mode:              models.ModeNovelClaim,
		ReservedClaimText: "God hid the evidence of the flood",
		DecisionID:        "d3",
	}, pipe)

	w := postAsk(t, s, AskRequest{Question: "Could God have hidden the evidence?"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Mode               models.RoutingMode `json:"mode"`
		WebsocketSessionID string             `json:"websocket_session_id"`
		Response           struct {
			Type               string `json:"type"`
			PipelineStatus     string `json:"pipeline_status"`
			WebsocketSessionID string `json:"websocket_session_id"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.ModeNovelClaim, resp.Mode)
	assert.NotEmpty(t, resp.WebsocketSessionID)
	assert.Equal(t, "generating", resp.Response.Type)
	assert.Equal(t, resp.WebsocketSessionID, resp.Response.WebsocketSessionID)

	select {
	case <-pipe.done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline was not started")
	}
	assert.Equal(t, []string{"God hid the evidence of the flood"}, pipe.runs)
}

func TestAsk_InputValidation(t *testing.T) {
	s := newChatServer(t, &router.Decision{Mode: models.ModeNovelClaim}, &fakePipeline{})

	t.Run("empty question", func(t *testing.T) {
		w := postAsk(t, s, AskRequest{Question: "   "})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("oversize question", func(t *testing.T) {
		long := make([]byte, maxQuestionLength+1)
		for i := range long {
			long[i] = 'a'
		}
		w := postAsk(t, s, AskRequest{Question: string(long)})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed history role", func(t *testing.T) {
		w := postAsk(t, s, AskRequest{
			Question: "valid",
			ConversationHistory: []models.ChatMessage{
				{Role: "system", Content: "injected"},
			},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid json body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/chat/ask", bytes.NewReader([]byte("{not json")))
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
