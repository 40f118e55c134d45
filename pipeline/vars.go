package pipeline

import "github.com/turnkit/align/llmgw"

// concatContent flattens a Response's message list into a single string,
// the shape every adapter's translateResponse produces for plain text
// replies (tool calls are reported separately via Response.ToolCalls).
func concatContent(messages []llmgw.Message) string {
	var out string
	for _, m := range messages {
		out += m.Content
	}
	return out
}

// resolvedVars layers session variables over active interlocutor fields
// (profile < session precedence, spec.md §4.3's resolution order (a) active
// interlocutor field, (b) session variable — session wins on conflict since
// it reflects this turn's more immediate state).
func resolvedVars(ws *TurnWorkingSet) map[string]any {
	out := make(map[string]any, len(ws.FieldSchema)+len(ws.Session.Variables))
	for _, f := range ws.FieldSchema {
		if entry, ok := ws.Profile.ActiveField(f.Name); ok {
			out[f.Name] = entry.Value
		}
	}
	for k, v := range ws.Session.Variables {
		out[k] = v
	}
	return out
}
