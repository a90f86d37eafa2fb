// Package unidiff derives per-file views from a raw unified diff. The
// diff itself is produced upstream; this package only splits, classifies,
// and counts. Views are computed on demand and never cached so callers
// always see a view consistent with the stored diff.
package unidiff

import (
	"strings"

	"pkt.systems/steward/schema"
)

// File is the parsed per-file portion of a unified diff.
type File struct {
	Path      string
	Status    schema.DiffFileStatus
	Additions int
	Deletions int
	Hunks     int
	Patch     string
}

// Summary converts the parsed file to its transport summary.
func (f File) Summary() schema.DiffFileSummary {
	return schema.DiffFileSummary{
		Path:      f.Path,
		Status:    f.Status,
		Additions: f.Additions,
		Deletions: f.Deletions,
		HasPatch:  f.Hunks > 0,
	}
}

// Parse splits a unified diff into its per-file sections. Both git-style
// diffs ("diff --git" headers) and bare unified diffs ("--- " / "+++ "
// pairs) are accepted. Unparseable sections yield a File with status
// unknown rather than an error.
func Parse(diff string) []File {
	lines := strings.Split(diff, "\n")
	sections := splitSections(lines)
	files := make([]File, 0, len(sections))
	for _, section := range sections {
		files = append(files, parseSection(section))
	}
	return files
}

// Summaries returns the transport-level per-file summaries.
func Summaries(diff string) []schema.DiffFileSummary {
	files := Parse(diff)
	out := make([]schema.DiffFileSummary, 0, len(files))
	for _, f := range files {
		out = append(out, f.Summary())
	}
	return out
}

// FilePatch returns the parsed section for one path.
func FilePatch(diff, path string) (File, bool) {
	for _, f := range Parse(diff) {
		if f.Path == path {
			return f, true
		}
	}
	return File{}, false
}

func splitSections(lines []string) [][]string {
	var sections [][]string
	var current []string
	flush := func() {
		if len(current) > 0 {
			sections = append(sections, current)
			current = nil
		}
	}
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(line, "diff --git ") {
			flush()
			current = append(current, line)
			continue
		}
		if strings.HasPrefix(line, "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ ") {
			// A bare unified diff file header, unless we are already
			// inside a git section that has not seen its header yet.
			if len(current) == 0 || sectionHasHunks(current) {
				flush()
			}
			current = append(current, line)
			continue
		}
		if len(current) == 0 {
			continue
		}
		current = append(current, line)
	}
	flush()
	return sections
}

func sectionHasHunks(section []string) bool {
	for _, line := range section {
		if strings.HasPrefix(line, "@@") {
			return true
		}
	}
	return false
}

func parseSection(section []string) File {
	f := File{Status: schema.DiffFileUnknown}
	var oldPath, newPath string
	inHunk := false
	for _, line := range section {
		switch {
		case strings.HasPrefix(line, "diff --git "):
			f.Path = pathFromGitHeader(line)
		case strings.HasPrefix(line, "new file mode"):
			f.Status = schema.DiffFileAdded
		case strings.HasPrefix(line, "deleted file mode"):
			f.Status = schema.DiffFileDeleted
		case strings.HasPrefix(line, "@@"):
			f.Hunks++
			inHunk = true
		case inHunk && strings.HasPrefix(line, "+"):
			f.Additions++
		case inHunk && strings.HasPrefix(line, "-"):
			f.Deletions++
		case strings.HasPrefix(line, "--- "):
			oldPath = stripPathPrefix(strings.TrimPrefix(line, "--- "))
		case strings.HasPrefix(line, "+++ "):
			newPath = stripPathPrefix(strings.TrimPrefix(line, "+++ "))
		}
	}
	if f.Status == schema.DiffFileUnknown {
		switch {
		case oldPath == "/dev/null" && newPath != "":
			f.Status = schema.DiffFileAdded
		case newPath == "/dev/null" && oldPath != "":
			f.Status = schema.DiffFileDeleted
		case oldPath != "" && newPath != "":
			f.Status = schema.DiffFileModified
		}
	}
	if f.Path == "" {
		if newPath != "" && newPath != "/dev/null" {
			f.Path = newPath
		} else if oldPath != "" && oldPath != "/dev/null" {
			f.Path = oldPath
		}
	}
	f.Patch = strings.Join(section, "\n")
	return f
}

func pathFromGitHeader(line string) string {
	// diff --git a/path b/path
	rest := strings.TrimPrefix(line, "diff --git ")
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return ""
	}
	return stripPathPrefix(fields[len(fields)-1])
}

func stripPathPrefix(path string) string {
	path = strings.TrimSpace(path)
	if idx := strings.IndexByte(path, '\t'); idx >= 0 {
		path = path[:idx]
	}
	if path == "/dev/null" {
		return path
	}
	for _, prefix := range []string{"a/", "b/"} {
		if strings.HasPrefix(path, prefix) {
			return path[len(prefix):]
		}
	}
	return path
}

// Totals sums additions and deletions across every file in the diff.
func Totals(diff string) (additions, deletions int) {
	for _, f := range Parse(diff) {
		additions += f.Additions
		deletions += f.Deletions
	}
	return additions, deletions
}
