package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePhase struct {
	name string
	mode FailureMode
	err  error
	ran  *[]string
}

func (p fakePhase) Name() string            { return p.name }
func (p fakePhase) FailureMode() FailureMode { return p.mode }
func (p fakePhase) Run(_ context.Context, _ *TurnWorkingSet) error {
	if p.ran != nil {
		*p.ran = append(*p.ran, p.name)
	}
	return p.err
}

func TestPipelineRunsAllPhasesInOrderOnSuccess(t *testing.T) {
	var ran []string
	p := NewPipeline([]Phase{
		fakePhase{name: "one", mode: FailFatal, ran: &ran},
		fakePhase{name: "two", mode: FailDegrade, ran: &ran},
		fakePhase{name: "three", mode: FailSkip, ran: &ran},
	}, nil, nil)

	ws := NewTurnWorkingSet(InboundMessage{})
	require.NoError(t, p.Run(context.Background(), ws))
	assert.Equal(t, []string{"one", "two", "three"}, ran)
	require.Len(t, ws.Timings, 3)
	for _, timing := range ws.Timings {
		assert.False(t, timing.Skipped)
	}
}

func TestPipelineFatalErrorStopsExecution(t *testing.T) {
	var ran []string
	wantErr := errors.New("boom")
	p := NewPipeline([]Phase{
		fakePhase{name: "one", mode: FailFatal, ran: &ran},
		fakePhase{name: "two", mode: FailFatal, err: wantErr, ran: &ran},
		fakePhase{name: "three", mode: FailFatal, ran: &ran},
	}, nil, nil)

	ws := NewTurnWorkingSet(InboundMessage{})
	err := p.Run(context.Background(), ws)
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, []string{"one", "two"}, ran, "expected the phase after the fatal failure never to run")
}

func TestPipelineDegradeAndSkipErrorsContinue(t *testing.T) {
	var ran []string
	degradeErr := errors.New("degraded")
	p := NewPipeline([]Phase{
		fakePhase{name: "retrieval", mode: FailDegrade, err: degradeErr, ran: &ran},
		fakePhase{name: "tools", mode: FailSkip, err: errors.New("skipped"), ran: &ran},
		fakePhase{name: "generation", mode: FailFatal, ran: &ran},
	}, nil, nil)

	ws := NewTurnWorkingSet(InboundMessage{})
	require.NoError(t, p.Run(context.Background(), ws))
	assert.Equal(t, []string{"retrieval", "tools", "generation"}, ran, "expected every phase to run despite non-fatal failures")

	require.Len(t, ws.Timings, 3)
	assert.True(t, ws.Timings[0].Skipped)
	assert.Equal(t, degradeErr.Error(), ws.Timings[0].SkipReason)
	assert.True(t, ws.Timings[1].Skipped)
	assert.False(t, ws.Timings[2].Skipped)
}

func TestPipelineStopsOnContextCancellation(t *testing.T) {
	var ran []string
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPipeline([]Phase{fakePhase{name: "one", mode: FailFatal, ran: &ran}}, nil, nil)
	ws := NewTurnWorkingSet(InboundMessage{})
	err := p.Run(ctx, ws)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ran)
}

func TestNewPipelineDefaultsClockAndLog(t *testing.T) {
	p := NewPipeline(nil, nil, nil)
	assert.NotNil(t, p.Log)
	assert.NotNil(t, p.Clock)
	assert.WithinDuration(t, time.Now(), p.Clock(), time.Second)
}
