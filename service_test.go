package align

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/llmgw"
	"github.com/turnkit/align/store/inmem"
)

type echoGenerator struct{}

func (echoGenerator) Complete(_ context.Context, req llmgw.Request) (llmgw.Response, error) {
	return llmgw.Response{
		Content: []llmgw.Message{{Role: "assistant", Content: "ack: " + req.Messages[len(req.Messages)-1].Content}},
		Usage:   llmgw.TokenUsage{TotalTokens: 3},
	}, nil
}

func (echoGenerator) Stream(_ context.Context, _ llmgw.Request) (llmgw.Streamer, error) {
	return nil, llmgw.ErrStreamingUnsupported
}

type zeroEmbedder struct{ dims int }

func (e zeroEmbedder) Embed(_ context.Context, _ string) ([]float32, error) { return make([]float32, e.dims), nil }
func (e zeroEmbedder) Dimensions() int                                     { return e.dims }

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Deps{
		Config:        inmem.New(),
		Sessions:      inmem.NewSessionStore(),
		Interlocutors: inmem.NewInterlocutorStore(),
		Memory:        inmem.NewMemoryStore(),
		Audit:         inmem.NewAuditStore(),
		Generator:     echoGenerator{},
		Embedder:      zeroEmbedder{dims: 4},
		Models:        Models{Generation: "test-model"},
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func TestNewServiceRequiresRepositories(t *testing.T) {
	_, err := NewService(Deps{Generator: echoGenerator{}})
	assert.Error(t, err)
}

func TestNewServiceRequiresGenerator(t *testing.T) {
	_, err := NewService(Deps{
		Config: inmem.New(), Sessions: inmem.NewSessionStore(), Interlocutors: inmem.NewInterlocutorStore(),
		Memory: inmem.NewMemoryStore(), Audit: inmem.NewAuditStore(),
	})
	assert.Error(t, err)
}

func TestProcessTurnFirstTurnCreatesSessionAndResponds(t *testing.T) {
	svc := newTestService(t)

	req := Request{
		TenantID: domain.NewID(), AgentID: domain.NewID(),
		Channel: "test", ChannelUserID: "user-1", Message: "hello there",
	}
	result, err := svc.ProcessTurn(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, domain.ID{}, result.SessionID)
	assert.NotEqual(t, domain.ID{}, result.TurnID)
	assert.Contains(t, result.Response, "hello there")
	assert.True(t, result.Passed, "no hard constraints configured, enforcement should pass")
	assert.False(t, result.FallbackUsed)
}

func TestProcessTurnSameChannelUserReusesSession(t *testing.T) {
	svc := newTestService(t)
	tenantID, agentID := domain.NewID(), domain.NewID()

	req := Request{TenantID: tenantID, AgentID: agentID, Channel: "test", ChannelUserID: "user-1", Message: "first"}
	first, err := svc.ProcessTurn(context.Background(), req)
	require.NoError(t, err)

	req.Message = "second"
	second, err := svc.ProcessTurn(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
}

func TestProcessTurnIdempotencyKeyReplaysCachedResult(t *testing.T) {
	svc := newTestService(t)
	svc.idempotency = inmem.NewIdempotencyCache(nil)

	req := Request{
		TenantID: domain.NewID(), AgentID: domain.NewID(),
		Channel: "test", ChannelUserID: "user-1", Message: "hello", IdempotencyKey: "key-1",
	}
	first, err := svc.ProcessTurn(context.Background(), req)
	require.NoError(t, err)

	req.Message = "this should never be seen"
	second, err := svc.ProcessTurn(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.TurnID, second.TurnID, "expected the cached result to be replayed verbatim")
}

func TestRequestLockKeyIsStableForSameRoutingIdentity(t *testing.T) {
	req := Request{TenantID: domain.NewID(), AgentID: domain.NewID(), Channel: "sms", ChannelUserID: "u1"}
	assert.Equal(t, req.lockKey(), req.lockKey())

	other := req
	other.ChannelUserID = "u2"
	assert.NotEqual(t, req.lockKey(), other.lockKey())
}

func TestProcessTurnStreamEmitsTokensThenDone(t *testing.T) {
	svc := newTestService(t)
	req := Request{TenantID: domain.NewID(), AgentID: domain.NewID(), Channel: "test", ChannelUserID: "user-1", Message: "hi"}

	var tokens []string
	var done *DoneEvent
	for ev := range svc.ProcessTurnStream(context.Background(), req) {
		switch {
		case ev.Token != nil:
			tokens = append(tokens, ev.Token.Content)
		case ev.Done != nil:
			done = ev.Done
		case ev.Err != nil:
			t.Fatalf("unexpected error event: %s", ev.Err.Message)
		}
	}
	require.NotNil(t, done)
	assert.NotEmpty(t, tokens)
}
