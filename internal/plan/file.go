// Package plan manages plan markdown files and their phase sidecars:
// decomposition into phases, phase selection and execution, git
// snapshots, and plan lifecycle transitions.
package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Plan lifecycle statuses as written in the file header.
const (
	StatusDraft        = "DRAFT"
	StatusReview       = "REVIEW"
	StatusApproved     = "APPROVED"
	StatusImplementing = "IMPLEMENTING"
	StatusClosed       = "CLOSED"
)

var (
	idHeaderRe = regexp.MustCompile(`(?m)^\*\*ID:\*\*\s*(\S+)\s*$`)
	statusRe   = regexp.MustCompile(`(?m)^\*\*Status:\*\*\s*([A-Z]+)\s*$`)
	taskRe     = regexp.MustCompile(`(?m)^\*\*(?:Task|Bead):\*\*\s*(\S+)\s*$`)
	titleRe    = regexp.MustCompile(`(?m)^#\s+(?:Plan:\s*)?(.+)$`)
	planIDRe   = regexp.MustCompile(`^plan-(\d{3})`)
)

// Header is the parsed plan file header.
type Header struct {
	ID     string
	Title  string
	Status string
	TaskID string
}

// ParseHeader extracts the id, title, status, and backing task id from
// plan content. The task line accepts both the current **Task:** form
// and the legacy **Bead:** form.
func ParseHeader(content string) Header {
	var h Header
	if m := titleRe.FindStringSubmatch(content); m != nil {
		h.Title = strings.TrimSpace(m[1])
	}
	if m := idHeaderRe.FindStringSubmatch(content); m != nil {
		h.ID = m[1]
	}
	if m := statusRe.FindStringSubmatch(content); m != nil {
		h.Status = m[1]
	}
	if m := taskRe.FindStringSubmatch(content); m != nil {
		h.TaskID = m[1]
	}
	return h
}

// SetStatus rewrites the status header line in content.
func SetStatus(content, status string) string {
	if statusRe.MatchString(content) {
		return statusRe.ReplaceAllString(content, "**Status:** "+status)
	}
	// No status line yet; insert after the title.
	lines := strings.SplitN(content, "\n", 2)
	if len(lines) == 2 {
		return lines[0] + "\n\n**Status:** " + status + "\n" + lines[1]
	}
	return content + "\n\n**Status:** " + status + "\n"
}

// Slugify derives a filename slug from a title: lowercase, hyphens for
// runs of non-alphanumerics, at most 50 characters.
func Slugify(title string) string {
	lower := strings.ToLower(title)
	var b strings.Builder
	lastHyphen := true
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 50 {
		slug = strings.Trim(slug[:50], "-")
	}
	return slug
}

// AllocateID scans dir for existing plan files and returns the next
// zero-padded plan id (plan-001, plan-002, …).
func AllocateID(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	max := 0
	for _, e := range entries {
		if m := planIDRe.FindStringSubmatch(e.Name()); m != nil {
			var n int
			fmt.Sscanf(m[1], "%d", &n)
			if n > max {
				max = n
			}
		}
	}
	return fmt.Sprintf("plan-%03d", max+1), nil
}

// FilePath builds the canonical plan file path for id and title.
func FilePath(dir, id, title string) string {
	slug := Slugify(title)
	if slug == "" {
		return filepath.Join(dir, id+".md")
	}
	return filepath.Join(dir, id+"-"+slug+".md")
}

// FindFile locates the plan file for id in dir.
func FindFile(dir, id string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), id) && strings.HasSuffix(e.Name(), ".md") && !strings.Contains(e.Name(), "-phases") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("plan %s not found in %s", id, dir)
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), nil
}

// WriteFileAtomic writes content via a temp file and rename.
func WriteFileAtomic(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// AppendAuditLog appends a "### Review K" block under "## Audit Log",
// creating the section when absent. The "## Implementation Notes"
// section, when present, stays at the end of the file.
func AppendAuditLog(content string, round int, auditText string) string {
	block := fmt.Sprintf("### Review %d\n\n%s\n", round, strings.TrimSpace(auditText))

	notesIdx := strings.Index(content, "## Implementation Notes")
	var head, tail string
	if notesIdx >= 0 {
		head = content[:notesIdx]
		tail = content[notesIdx:]
	} else {
		head = content
	}

	if !strings.Contains(head, "## Audit Log") {
		head = strings.TrimRight(head, "\n") + "\n\n## Audit Log\n\n"
	} else {
		head = strings.TrimRight(head, "\n") + "\n\n"
	}
	head += block
	if tail != "" {
		head = strings.TrimRight(head, "\n") + "\n\n" + tail
	}
	return head
}

// AppendAuditLogSection re-attaches a previously extracted audit log
// body to content, keeping Implementation Notes at the end.
func AppendAuditLogSection(content, logBody string) string {
	notesIdx := strings.Index(content, "## Implementation Notes")
	var head, tail string
	if notesIdx >= 0 {
		head = content[:notesIdx]
		tail = content[notesIdx:]
	} else {
		head = content
	}
	head = strings.TrimRight(head, "\n") + "\n\n## Audit Log\n\n" + strings.TrimSpace(logBody) + "\n"
	if tail != "" {
		head = head + "\n" + tail
	}
	return head
}

// MandatorySections are required for a plan to be resumable.
var MandatorySections = []string{
	"## Objective",
	"## Scope",
	"## Changes",
	"## Risks",
	"## Testing",
	"## Audit Log",
	"## Implementation Notes",
}

// CheckStructure verifies the mandatory sections are present.
func CheckStructure(content string) error {
	var missing []string
	for _, s := range MandatorySections {
		if !strings.Contains(content, s) {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("structural issues: missing %s", strings.Join(missing, ", "))
	}
	return nil
}
