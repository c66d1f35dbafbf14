package forge

import (
	"regexp"
	"strings"
)

// Severity orders audit concerns; Blocking is the most severe.
type Severity int

const (
	SeverityNone Severity = iota
	SeveritySuggestion
	SeverityMinor
	SeverityMedium
	SeverityBlocking
)

func (s Severity) String() string {
	switch s {
	case SeverityBlocking:
		return "blocking"
	case SeverityMedium:
		return "medium"
	case SeverityMinor:
		return "minor"
	case SeveritySuggestion:
		return "suggestion"
	default:
		return "none"
	}
}

// Audit is the parsed outcome of one auditor round.
type Audit struct {
	Verdict     string
	MaxSeverity Severity
	Concerns    int

	// ShouldLoop is true when the verdict asks for revision or any
	// blocking concern is present.
	ShouldLoop bool
}

var (
	severityRe = regexp.MustCompile(`\*\*Severity:\s*(blocking|medium|minor|suggestion)\*\*`)
	verdictRe  = regexp.MustCompile(`\*\*Verdict:\*\*\s*([^\n]+)`)
	concernRe  = regexp.MustCompile(`\*\*Concern \d+:\*\*`)
)

// ParseAudit extracts the concerns, maximum severity, and verdict from
// auditor output.
func ParseAudit(text string) Audit {
	var a Audit
	for _, m := range severityRe.FindAllStringSubmatch(text, -1) {
		sev := parseSeverity(m[1])
		if sev > a.MaxSeverity {
			a.MaxSeverity = sev
		}
	}
	a.Concerns = len(concernRe.FindAllString(text, -1))
	if m := verdictRe.FindStringSubmatch(text); m != nil {
		a.Verdict = strings.TrimSpace(m[1])
	}
	a.ShouldLoop = strings.Contains(a.Verdict, "Needs revision") || a.MaxSeverity == SeverityBlocking
	return a
}

func parseSeverity(s string) Severity {
	switch s {
	case "blocking":
		return SeverityBlocking
	case "medium":
		return SeverityMedium
	case "minor":
		return SeverityMinor
	case "suggestion":
		return SeveritySuggestion
	default:
		return SeverityNone
	}
}

// ReadyToApprove reports whether the verdict accepts the plan.
func (a Audit) ReadyToApprove() bool {
	return strings.Contains(a.Verdict, "Ready to approve")
}
