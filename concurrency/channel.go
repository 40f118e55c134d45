package concurrency

import (
	"context"
	"sync"
	"time"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/pipeline"
)

// OutboundMessage is the symmetric counterpart to pipeline.InboundMessage
// (spec.md §6), built from an AlignmentResult for delivery back through a
// channel adapter.
type OutboundMessage struct {
	TenantID      domain.ID
	AgentID       domain.ID
	Channel       string
	ChannelUserID string
	Content       string
	SessionID     domain.ID
	TurnID        domain.ID
}

// ToOutboundMessage adapts one AlignmentResult into an OutboundMessage for
// the given channel routing.
func ToOutboundMessage(tenantID, agentID domain.ID, channel, channelUserID string, result domain.AlignmentResult) OutboundMessage {
	return OutboundMessage{
		TenantID: tenantID, AgentID: agentID, Channel: channel, ChannelUserID: channelUserID,
		Content: result.Response, SessionID: result.SessionID, TurnID: result.TurnID,
	}
}

// pendingAggregate buffers inbound fragments for one (tenant, channel,
// channel_user_id) awaiting the channel's aggregation window to close.
type pendingAggregate struct {
	mu      sync.Mutex
	parts   []string
	latest  pipeline.InboundMessage
	timer   *time.Timer
	flushed bool
}

// aggregateKey identifies one interlocutor on one channel.
type aggregateKey struct {
	tenantID, agentID domain.ID
	channel           string
	channelUserID     string
}

// ChannelGateway normalizes raw channel traffic into pipeline.InboundMessage
// per spec.md §6, applying each channel's ChannelPolicy: messages arriving
// within AggregationWindow of one another are merged into one turn (or, in
// SupersedeMode "replace", only the latest survives); MaxMessageLength
// truncates; TypingSupport gates whether a typing indicator is emitted
// while a turn is in flight.
type ChannelGateway struct {
	Policies map[string]domain.ChannelPolicy // keyed by ChannelPolicy.Channel
	Dispatch func(ctx context.Context, msg pipeline.InboundMessage)

	mu      sync.Mutex
	pending map[aggregateKey]*pendingAggregate
}

// NewChannelGateway wires a ChannelGateway. dispatch is called once per
// aggregated turn, after the channel's aggregation window closes (or
// immediately, for channels with no configured window).
func NewChannelGateway(policies []domain.ChannelPolicy, dispatch func(ctx context.Context, msg pipeline.InboundMessage)) *ChannelGateway {
	byChannel := make(map[string]domain.ChannelPolicy, len(policies))
	for _, p := range policies {
		byChannel[p.Channel] = p
	}
	return &ChannelGateway{Policies: byChannel, Dispatch: dispatch, pending: make(map[aggregateKey]*pendingAggregate)}
}

// Accept ingests one raw inbound message, applying MaxMessageLength
// truncation immediately and routing into the channel's aggregation window
// (or dispatching immediately, if the channel has no window configured).
func (g *ChannelGateway) Accept(ctx context.Context, msg pipeline.InboundMessage) {
	policy, ok := g.Policies[msg.Channel]
	if !ok || policy.AggregationWindow <= 0 {
		g.Dispatch(ctx, truncate(msg, policy))
		return
	}

	key := aggregateKey{msg.TenantID, msg.AgentID, msg.Channel, msg.ChannelUserID}
	g.mu.Lock()
	defer g.mu.Unlock()

	pa, ok := g.pending[key]
	if !ok {
		pa = &pendingAggregate{}
		g.pending[key] = pa
	}

	pa.mu.Lock()
	defer pa.mu.Unlock()

	if policy.SupersedeMode == "replace" {
		pa.parts = []string{msg.Content}
	} else {
		pa.parts = append(pa.parts, msg.Content)
	}
	pa.latest = msg

	if pa.timer != nil {
		pa.timer.Stop()
	}
	pa.timer = time.AfterFunc(policy.AggregationWindow, func() {
		g.flush(ctx, key, policy)
	})
}

func (g *ChannelGateway) flush(ctx context.Context, key aggregateKey, policy domain.ChannelPolicy) {
	g.mu.Lock()
	pa, ok := g.pending[key]
	if ok {
		delete(g.pending, key)
	}
	g.mu.Unlock()
	if !ok {
		return
	}

	pa.mu.Lock()
	merged := pa.latest
	var content string
	for i, p := range pa.parts {
		if i > 0 {
			content += "\n"
		}
		content += p
	}
	merged.Content = content
	pa.mu.Unlock()

	g.Dispatch(ctx, truncate(merged, policy))
}

func truncate(msg pipeline.InboundMessage, policy domain.ChannelPolicy) pipeline.InboundMessage {
	if policy.MaxMessageLength > 0 && len(msg.Content) > policy.MaxMessageLength {
		msg.Content = msg.Content[:policy.MaxMessageLength]
	}
	return msg
}

// SupportsTyping reports whether channel is configured to accept a typing
// indicator while a turn is in flight.
func (g *ChannelGateway) SupportsTyping(channel string) bool {
	return g.Policies[channel].TypingSupport
}
