package enforcement

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	percentRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	moneyRe   = regexp.MustCompile(`\$\s*(\d+(?:\.\d+)?)`)
)

// flagPatterns maps a boolean variable name to phrases in the candidate
// response that, if present (case-insensitive), set that flag true.
// spec.md §4.4 names "contains_refund" and "contains_promise" as examples;
// this is deliberately a small, explicit set rather than a generic NLP
// classifier, matching the deterministic lane's "no imports" spirit.
var flagPatterns = map[string][]string{
	"contains_refund":  {"refund", "money back", "reimburse"},
	"contains_promise": {"i promise", "we promise", "guarantee"},
}

// ExtractResponseVariables scans a candidate response for monetary
// amounts, percentages, and boolean flag phrases, returning a variable map
// the deterministic lane can feed to EvalExpression.
func ExtractResponseVariables(response string) map[string]any {
	vars := make(map[string]any)
	lower := strings.ToLower(response)

	if m := percentRe.FindStringSubmatch(response); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			vars["discount_percent"] = f
			vars["percent"] = f
		}
	}
	if m := moneyRe.FindStringSubmatch(response); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			vars["amount"] = f
		}
	}
	for flag, phrases := range flagPatterns {
		found := false
		for _, p := range phrases {
			if strings.Contains(lower, p) {
				found = true
				break
			}
		}
		vars[flag] = found
	}
	return vars
}

// MergeVariables combines response-extracted, session, and profile
// variables with response > session > profile precedence (spec.md §4.4).
func MergeVariables(response, session, profile map[string]any) map[string]any {
	out := make(map[string]any, len(response)+len(session)+len(profile))
	for k, v := range profile {
		out[k] = v
	}
	for k, v := range session {
		out[k] = v
	}
	for k, v := range response {
		out[k] = v
	}
	return out
}
