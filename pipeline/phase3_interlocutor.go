package pipeline

import (
	"context"
	"fmt"

	"github.com/turnkit/align/telemetry"
)

// InterlocutorUpdater is Phase 3: it folds Phase 2's candidate variables
// into the working-set profile snapshot via UpdateField, skipping any value
// whose name is not declared in the field schema rather than failing the
// turn (spec.md §4.1, §4.2 "the interlocutor loader ... never raises").
type InterlocutorUpdater struct {
	Log telemetry.Logger
}

func NewInterlocutorUpdater(log telemetry.Logger) *InterlocutorUpdater {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &InterlocutorUpdater{Log: log}
}

func (u *InterlocutorUpdater) Name() string            { return "interlocutor_data_update" }
func (u *InterlocutorUpdater) FailureMode() FailureMode { return FailDegrade }

func (u *InterlocutorUpdater) Run(ctx context.Context, ws *TurnWorkingSet) error {
	known := make(map[string]bool, len(ws.FieldSchema))
	for _, f := range ws.FieldSchema {
		known[f.Name] = true
	}

	for name, value := range ws.Snapshot.CandidateVars {
		if !known[name] {
			u.Log.Debug(ctx, "interlocutor_data_update: skipping undeclared field", "field", name)
			continue
		}
		ws.Profile.UpdateField(name, value, goValueType(value), "extraction", sensorConfidence, ws.Now)
	}
	return nil
}

// goValueType names the extracted value's dynamic type for VariableEntry's
// ValueType field, a lightweight hint rather than a formal type system.
func goValueType(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case float64, int:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// sensorConfidence is the confidence assigned to values extracted from the
// situational snapshot rather than an explicit source document; it is
// deliberately below GapFillConfig.UseThreshold so migration's gap-fill
// resolver still prefers a verified profile value over a fresh guess.
const sensorConfidence = 0.6
