package engine

import (
	"regexp"
	"strings"
)

// Destructive tool-call patterns. The gate errs on the side of blocking:
// a gated invocation is one no subsystem expects to mutate state outside
// its sandbox.
var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+(-[a-z]*[rf][a-z]*\s+)+`),
	regexp.MustCompile(`(?i)\bgit\s+push\b.*(--force|-f)\b`),
	regexp.MustCompile(`(?i)\bgit\s+reset\s+--hard\b`),
	regexp.MustCompile(`(?i)\bgit\s+clean\b`),
	regexp.MustCompile(`(?i)\bsudo\b`),
	regexp.MustCompile(`(?i)\bmkfs\b`),
	regexp.MustCompile(`(?i)\bdd\s+if=`),
	regexp.MustCompile(`(?i)>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`(?i)\bchmod\s+-R\s+777\b`),
	regexp.MustCompile(`(?i)\btruncate\s+-s\s*0\b`),
}

// Tools whose inputs the gate inspects. Read-only tools pass untouched.
var gatedTools = map[string]bool{
	"Bash":  true,
	"Write": false, // writes stay inside the sandboxed cwd
	"Edit":  false,
}

// CheckToolCall inspects a tool_start event under the tool-call gate.
// It returns a non-nil *ToolGateError when the call must be blocked.
func CheckToolCall(name, input string) *ToolGateError {
	if !gatedTools[name] {
		return nil
	}
	for _, pattern := range destructivePatterns {
		if pattern.MatchString(input) {
			return &ToolGateError{
				Tool:   name,
				Reason: name + " input matches destructive pattern " + pattern.String(),
			}
		}
	}
	if strings.Contains(input, "rm -rf /") {
		return &ToolGateError{Tool: name, Reason: "recursive delete from filesystem root"}
	}
	return nil
}
