package research

import (
	"strings"

	"github.com/Cownjackson/open-deep-research/internal/engine"
)

// OutcomeKind classifies what a finished run produced.
type OutcomeKind string

const (
	// OutcomeReport: the run produced a final report.
	OutcomeReport OutcomeKind = "report"
	// OutcomeClarification: the agent is asking the user a question; the
	// caller should answer on the same thread.
	OutcomeClarification OutcomeKind = "clarification"
	// OutcomeEmpty: the run finished without a report or a clarification.
	OutcomeEmpty OutcomeKind = "empty"
)

// Outcome is the caller-facing result of a run.
type Outcome struct {
	Kind          OutcomeKind `json:"kind"`
	Report        string      `json:"report,omitempty"`
	Clarification string      `json:"clarification,omitempty"`
}

// ExtractOutcome interprets a thread snapshot. The priority is fixed: a
// non-empty final report always wins, even when the last message also looks
// like a question; then the clarification heuristic; then empty.
func ExtractOutcome(state *engine.ThreadState) Outcome {
	if state != nil && state.Values.FinalReport != "" {
		return Outcome{Kind: OutcomeReport, Report: state.Values.FinalReport}
	}
	if msg, ok := state.LastMessage(); ok && looksLikeClarification(msg.Content) {
		return Outcome{Kind: OutcomeClarification, Clarification: msg.Content}
	}
	return Outcome{Kind: OutcomeEmpty}
}

// looksLikeClarification detects a clarification request by the presence of
// a question mark or the substrings "clarify"/"specify". Crude and
// English-only, with obvious false positives (a report-less answer that
// merely quotes a question) and negatives (non-English prompts), but it is
// the established behavior callers rely on.
func looksLikeClarification(text string) bool {
	if text == "" {
		return false
	}
	if strings.Contains(text, "?") {
		return true
	}
	lower := strings.ToLower(text)
	return strings.Contains(lower, "clarify") || strings.Contains(lower, "specify")
}
