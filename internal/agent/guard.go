package agent

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxResultBytes caps a rendered tool result before it is sent back
// to the reasoning backend.
const DefaultMaxResultBytes = 16 * 1024

const truncationNote = "\n[truncated: result exceeded size limit]"

var defaultMaskPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[/?tool_result\]`),
	regexp.MustCompile(`\[tool_call\]`),
	regexp.MustCompile(`\[tool_use\]`),
	regexp.MustCompile(`<tool_call>`),
	regexp.MustCompile(`<function_call>`),
	regexp.MustCompile(`"type"\s*:\s*"(function|tool_use)"`),
	regexp.MustCompile(`"tool_calls"\s*:\s*\[`),
	regexp.MustCompile(`"functionCall"\s*:`),
}

// Guard bounds and sanitizes tool output. Record text such as a tenant's
// maintenance description is user-entered and must not be able to pose as a
// tool invocation.
type Guard struct {
	MaxResultBytes int
	MaskPatterns   []*regexp.Regexp
}

func NewGuard() *Guard {
	return &Guard{
		MaxResultBytes: DefaultMaxResultBytes,
		MaskPatterns:   defaultMaskPatterns,
	}
}

func (g *Guard) Sanitize(s string) string {
	if s == "" {
		return s
	}
	if g.MaxResultBytes > 0 && len(s) > g.MaxResultBytes {
		cut := g.MaxResultBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + truncationNote
	}
	for _, pat := range g.MaskPatterns {
		s = pat.ReplaceAllStringFunc(s, func(match string) string {
			return strings.Repeat("*", len(match))
		})
	}
	return s
}

// Wrap marks s as data for the reasoning backend.
func (g *Guard) Wrap(s string) string {
	return "[tool_result]\n" + s + "\n[/tool_result]"
}
