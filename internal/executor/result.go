package executor

import (
	"encoding/json"
	"fmt"
)

// Fixed sentinel texts. They stand in for "no data" so the reasoner's second
// turn can still compose an answer.
const (
	SentinelToolNotFound = "Tool not found."
	SentinelNoData       = "No data found."
)

// Result is the structured outcome of one tool execution. Exactly one of
// Data and Sentinel is meaningful.
type Result struct {
	Tool     string
	Data     any
	Sentinel string
}

func sentinel(tool, text string) Result {
	return Result{Tool: tool, Sentinel: text}
}

func (r Result) IsSentinel() bool { return r.Sentinel != "" }

// Render serializes the result for re-injection into a reasoning turn. It is
// the only place tool output becomes text.
func (r Result) Render() (string, error) {
	if r.Sentinel != "" {
		return r.Sentinel, nil
	}
	if r.Data == nil {
		return SentinelNoData, nil
	}
	b, err := json.Marshal(r.Data)
	if err != nil {
		return "", fmt.Errorf("render %s result: %w", r.Tool, err)
	}
	return string(b), nil
}
