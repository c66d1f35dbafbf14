package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// ContentHash returns the first 16 hex chars of SHA-256(content).
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

// workspaceBasenames are files that live at the workspace root; bare
// mentions are normalized under a workspace/ prefix.
var workspaceBasenames = map[string]bool{
	"TOOLS.md": true, "AGENTS.md": true, "MEMORY.md": true,
	"SOUL.md": true, "IDENTITY.md": true, "USER.md": true,
}

var (
	backtickRe  = regexp.MustCompile("`([^`\n]+)`")
	manifestRe  = regexp.MustCompile(`(?s)\x60\x60\x60json\s*(\[.*?\])\s*\x60\x60\x60`)
	allCapsRe   = regexp.MustCompile(`^[A-Z0-9_]+$`)
	pascalRe    = regexp.MustCompile(`^(?:[A-Z][a-z0-9]+){2,}$`)
	testSuffixRe = regexp.MustCompile(`^(.*)\.(?:test|spec)\.[^.]+$`)
)

var knownExtensions = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".rs": true, ".md": true, ".json": true, ".yaml": true,
	".yml": true, ".toml": true, ".sh": true, ".sql": true, ".css": true,
	".html": true, ".proto": true,
}

// ExtractFiles pulls the changed-file list from the ## Changes section.
// A Change Manifest JSON array wins; otherwise backticked path-like
// tokens are collected. Order is first-seen, deduplicated.
func ExtractFiles(content string) []string {
	section := changesSection(content)
	if section == "" {
		return nil
	}

	if m := manifestRe.FindStringSubmatch(section); m != nil {
		var listed []string
		if err := json.Unmarshal([]byte(m[1]), &listed); err == nil {
			return normalizeAll(listed)
		}
	}

	var out []string
	for _, m := range backtickRe.FindAllStringSubmatch(section, -1) {
		token := strings.TrimSpace(m[1])
		if looksLikePath(token) {
			out = append(out, token)
		}
	}
	return normalizeAll(out)
}

func changesSection(content string) string {
	start := strings.Index(content, "## Changes")
	if start < 0 {
		return ""
	}
	rest := content[start+len("## Changes"):]
	if next := strings.Index(rest, "\n## "); next >= 0 {
		return rest[:next]
	}
	return rest
}

// looksLikePath accepts tokens containing a path separator or a known
// file extension, rejecting ALL_CAPS constants and PascalCase
// identifiers.
func looksLikePath(token string) bool {
	if token == "" || strings.ContainsAny(token, " \t") {
		return false
	}
	base := path.Base(token)
	stem := strings.TrimSuffix(base, path.Ext(base))
	if allCapsRe.MatchString(token) || pascalRe.MatchString(token) {
		return false
	}
	if strings.Contains(token, "/") {
		return true
	}
	if workspaceBasenames[token] {
		return true
	}
	if knownExtensions[strings.ToLower(path.Ext(token))] {
		// A bare NAME.ext where NAME is an exported identifier is more
		// likely a symbol reference than a file.
		return !allCapsRe.MatchString(stem) && !pascalRe.MatchString(stem)
	}
	return false
}

func normalizeAll(files []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if !strings.Contains(f, "/") && workspaceBasenames[f] {
			f = "workspace/" + f
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// groupFiles pairs sources with their test files, buckets the rest by
// directory, and splits buckets larger than maxPer.
func groupFiles(files []string, maxPer int) [][]string {
	if maxPer <= 0 {
		maxPer = 5
	}
	used := make(map[string]bool)
	var groups [][]string

	// Pair X with X.test.* / X.spec.*.
	for _, f := range files {
		if used[f] {
			continue
		}
		if m := testSuffixRe.FindStringSubmatch(f); m != nil {
			continue // handled when its source comes up, or bucketed later
		}
		group := []string{f}
		used[f] = true
		stem := strings.TrimSuffix(f, path.Ext(f))
		for _, other := range files {
			if used[other] {
				continue
			}
			if m := testSuffixRe.FindStringSubmatch(other); m != nil && m[1] == stem {
				group = append(group, other)
				used[other] = true
			}
		}
		if len(group) > 1 {
			groups = append(groups, group)
		} else {
			used[f] = false
		}
	}

	// Bucket the remainder by directory.
	buckets := make(map[string][]string)
	var order []string
	for _, f := range files {
		if used[f] {
			continue
		}
		dir := path.Dir(f)
		if _, ok := buckets[dir]; !ok {
			order = append(order, dir)
		}
		buckets[dir] = append(buckets[dir], f)
	}
	for _, dir := range order {
		bucket := buckets[dir]
		for len(bucket) > maxPer {
			groups = append(groups, bucket[:maxPer])
			bucket = bucket[maxPer:]
		}
		if len(bucket) > 0 {
			groups = append(groups, bucket)
		}
	}
	return groups
}

// Decompose turns plan content into an ordered phase set.
func Decompose(planContent, planID, planFile string, maxContextFiles int) *PhaseSet {
	set := &PhaseSet{
		Version:         1,
		PlanID:          planID,
		PlanFile:        planFile,
		PlanContentHash: ContentHash(planContent),
	}

	files := ExtractFiles(planContent)
	if len(files) == 0 {
		set.Phases = []*Phase{
			{ID: phaseID(1), Kind: KindRead, Title: "Read the plan", Description: "Read the plan and gather the context needed to implement it", Status: PhasePending, ContextFiles: []string{planFile}},
			{ID: phaseID(2), Kind: KindImplement, Title: "Implement the plan", Description: "Implement the changes the plan describes", Status: PhasePending, DependsOn: []string{phaseID(1)}, ContextFiles: []string{planFile}},
			{ID: phaseID(3), Kind: KindAudit, Title: "Audit the implementation", Description: "Audit the implemented changes against the plan", Status: PhasePending, DependsOn: []string{phaseID(2)}, ContextFiles: []string{planFile}},
		}
		return set
	}

	groups := groupFiles(files, maxContextFiles)
	var implementIDs []string
	n := 0
	for _, group := range groups {
		n++
		id := phaseID(n)
		phase := &Phase{
			ID:           id,
			Kind:         KindImplement,
			Title:        groupTitle(group),
			Description:  "Implement the plan's changes to " + strings.Join(group, ", "),
			Status:       PhasePending,
			ContextFiles: group,
		}
		if len(implementIDs) > 0 {
			phase.DependsOn = []string{implementIDs[len(implementIDs)-1]}
		}
		implementIDs = append(implementIDs, id)
		set.Phases = append(set.Phases, phase)
	}
	n++
	set.Phases = append(set.Phases, &Phase{
		ID:           phaseID(n),
		Kind:         KindAudit,
		Title:        "Audit the implementation",
		Description:  "Audit the implemented changes against the plan",
		Status:       PhasePending,
		DependsOn:    implementIDs,
		ContextFiles: []string{planFile},
	})
	return set
}

func phaseID(n int) string {
	return fmt.Sprintf("phase-%d", n)
}

func groupTitle(group []string) string {
	if len(group) == 1 {
		return "Implement " + group[0]
	}
	dir := path.Dir(group[0])
	same := true
	for _, f := range group[1:] {
		if path.Dir(f) != dir {
			same = false
			break
		}
	}
	if same && dir != "." {
		return fmt.Sprintf("Implement %s (%d files)", dir, len(group))
	}
	return "Implement " + path.Base(group[0]) + " and related files"
}
