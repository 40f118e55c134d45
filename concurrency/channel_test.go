package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/pipeline"
)

func TestChannelGatewayDispatchesImmediatelyWithoutWindow(t *testing.T) {
	var dispatched []pipeline.InboundMessage
	var mu sync.Mutex
	g := NewChannelGateway(
		[]domain.ChannelPolicy{{Channel: "sms"}},
		func(_ context.Context, msg pipeline.InboundMessage) {
			mu.Lock()
			dispatched = append(dispatched, msg)
			mu.Unlock()
		},
	)

	g.Accept(context.Background(), pipeline.InboundMessage{Channel: "sms", Content: "hi"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dispatched, 1)
	assert.Equal(t, "hi", dispatched[0].Content)
}

func TestChannelGatewayAggregatesWithinWindow(t *testing.T) {
	done := make(chan pipeline.InboundMessage, 1)
	g := NewChannelGateway(
		[]domain.ChannelPolicy{{Channel: "chat", AggregationWindow: 40 * time.Millisecond}},
		func(_ context.Context, msg pipeline.InboundMessage) { done <- msg },
	)

	base := pipeline.InboundMessage{TenantID: domain.NewID(), AgentID: domain.NewID(), Channel: "chat", ChannelUserID: "u1"}
	g.Accept(context.Background(), withContent(base, "hello"))
	g.Accept(context.Background(), withContent(base, "world"))

	select {
	case msg := <-done:
		assert.Equal(t, "hello\nworld", msg.Content)
	case <-time.After(time.Second):
		t.Fatal("expected aggregated dispatch within the window")
	}
}

func TestChannelGatewaySupersedeModeKeepsOnlyLatest(t *testing.T) {
	done := make(chan pipeline.InboundMessage, 1)
	g := NewChannelGateway(
		[]domain.ChannelPolicy{{Channel: "chat", AggregationWindow: 40 * time.Millisecond, SupersedeMode: "replace"}},
		func(_ context.Context, msg pipeline.InboundMessage) { done <- msg },
	)

	base := pipeline.InboundMessage{Channel: "chat", ChannelUserID: "u1"}
	g.Accept(context.Background(), withContent(base, "draft one"))
	g.Accept(context.Background(), withContent(base, "final answer"))

	select {
	case msg := <-done:
		assert.Equal(t, "final answer", msg.Content)
	case <-time.After(time.Second):
		t.Fatal("expected superseded dispatch within the window")
	}
}

func TestChannelGatewayTruncatesLongMessages(t *testing.T) {
	done := make(chan pipeline.InboundMessage, 1)
	g := NewChannelGateway(
		[]domain.ChannelPolicy{{Channel: "sms", MaxMessageLength: 5}},
		func(_ context.Context, msg pipeline.InboundMessage) { done <- msg },
	)

	g.Accept(context.Background(), pipeline.InboundMessage{Channel: "sms", Content: "this is way too long"})
	msg := <-done
	assert.Equal(t, "this ", msg.Content)
}

func TestChannelGatewaySupportsTyping(t *testing.T) {
	g := NewChannelGateway([]domain.ChannelPolicy{{Channel: "chat", TypingSupport: true}}, func(context.Context, pipeline.InboundMessage) {})
	assert.True(t, g.SupportsTyping("chat"))
	assert.False(t, g.SupportsTyping("sms"))
}

func withContent(msg pipeline.InboundMessage, content string) pipeline.InboundMessage {
	msg.Content = content
	return msg
}
