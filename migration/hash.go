package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/turnkit/align/domain"
)

// StepContentHash computes a content hash over a step's stable fields: the
// checkpoint flag, collected fields, tool bindings, and each transition's
// condition fields (transition targets only fix the hashing order). It
// deliberately excludes the step's own ID so that a step that is
// byte-identical in every way that matters still hashes equal across
// scenario versions, even if its ID churned (spec.md §4.5 "Content
// hashing").
func StepContentHash(step domain.ScenarioStep) string {
	h := sha256.New()
	fmt.Fprintf(h, "checkpoint=%v\n", step.IsCheckpoint)

	fields := append([]string(nil), step.CollectsFields...)
	sort.Strings(fields)
	fmt.Fprintf(h, "collects=%s\n", strings.Join(fields, ","))

	bindings := append([]domain.ToolBinding(nil), step.ToolBindings...)
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].ToolID < bindings[j].ToolID })
	for _, b := range bindings {
		fmt.Fprintf(h, "binding=%s:%s\n", b.ToolID, b.When)
	}

	transitions := append([]domain.Transition(nil), step.Transitions...)
	sort.Slice(transitions, func(i, j int) bool {
		return transitions[i].ToStepID.String() < transitions[j].ToStepID.String()
	})
	for _, t := range transitions {
		cond := append([]string(nil), t.ConditionFields...)
		sort.Strings(cond)
		fmt.Fprintf(h, "transition=%s\n", strings.Join(cond, ","))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// ScenarioChecksum is the hash of the ordered set of step content hashes,
// used to detect whether a session's cached scenario state is stale
// relative to the currently published version (spec.md §4.5).
func ScenarioChecksum(scenario domain.Scenario) string {
	hashes := make([]string, 0, len(scenario.Steps))
	for _, s := range scenario.Steps {
		hashes = append(hashes, StepContentHash(s))
	}
	sort.Strings(hashes)
	h := sha256.New()
	h.Write([]byte(strings.Join(hashes, "|")))
	return hex.EncodeToString(h.Sum(nil))
}
