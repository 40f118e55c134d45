package pipeline

import (
	"time"

	"github.com/turnkit/align/telemetry"
)

// NewDefaultPipeline assembles the fixed twelve-phase sequence from spec.md
// §4.1's table. Each phase argument may be nil-safe at construction (the
// individual phase constructors already default their own nil
// collaborators); passing a phase built with a nil external dependency
// (e.g. a nil llmgw.Judge in Filterer) degrades that phase's behavior
// rather than changing the pipeline's shape.
func NewDefaultPipeline(
	contextLoader *ContextLoader,
	sensor *SituationalSensor,
	interlocutorUpdate *InterlocutorUpdater,
	retriever *Retriever,
	filterer *Filterer,
	gapFill *GapFillPlanner,
	beforeDuring *ToolExecutor,
	generator *Generator,
	enforcer *EnforcementPhase,
	after *ToolExecutor,
	persister *Persister,
	auditor *AuditRecorder,
	clock func() time.Time,
	log telemetry.Logger,
) *Pipeline {
	return NewPipeline([]Phase{
		contextLoader,
		sensor,
		interlocutorUpdate,
		retriever,
		filterer,
		gapFill,
		beforeDuring,
		generator,
		enforcer,
		after,
		persister,
		auditor,
	}, log, clock)
}
