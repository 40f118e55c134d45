// Command demo wires align.NewService against the in-memory store
// implementations and runs a single turn through the full pipeline, printing
// the resulting domain.AlignmentResult. It is a smoke test for the wiring,
// not a deployment template: a real service supplies Mongo-backed (or
// otherwise durable) repositories and a provider-backed llmgw.Generator.
package main

import (
	"context"
	"flag"
	"fmt"

	"goa.design/clue/log"

	"github.com/turnkit/align"
	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/store/inmem"
	"github.com/turnkit/align/telemetry"
)

func main() {
	dbgF := flag.Bool("debug", false, "enable debug logs")
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	svc, err := align.NewService(align.Deps{
		Config:        inmem.New(),
		Sessions:      inmem.NewSessionStore(),
		Interlocutors: inmem.NewInterlocutorStore(),
		Memory:        inmem.NewMemoryStore(),
		Audit:         inmem.NewAuditStore(),

		Generator: echoGenerator{},
		Embedder:  zeroEmbedder{dims: 8},

		Models: align.Models{Generation: "demo-model"},
		Log:    telemetry.NewClueLogger(),
	})
	if err != nil {
		panic(err)
	}
	defer svc.Close()

	req := align.Request{
		TenantID:      domain.NewID(),
		AgentID:       domain.NewID(),
		Channel:       "demo",
		ChannelUserID: "user-1",
		Message:       "Say hi",
	}

	result, err := svc.ProcessTurn(ctx, req)
	if err != nil {
		panic(err)
	}

	fmt.Println("Session:", result.SessionID)
	fmt.Println("Response:", result.Response)
	fmt.Println("Passed:", result.Passed, "FallbackUsed:", result.FallbackUsed)
	fmt.Println("Tokens used:", result.TokensUsed, "Latency(ms):", result.LatencyMS)
}
