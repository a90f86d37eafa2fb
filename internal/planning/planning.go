// Package planning expands @planning/... mentions in a prompt into the
// referenced document content before a turn starts.
package planning

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"pkt.systems/pslog"
)

var mentionPattern = regexp.MustCompile(`@planning/([A-Za-z0-9._/-]+)`)

// Resolver reads planning documents referenced from prompts.
type Resolver struct {
	dir string
	log pslog.Logger
}

// NewResolver returns a resolver rooted at the planning directory. An
// empty dir disables expansion.
func NewResolver(dir string, logger pslog.Logger) *Resolver {
	return &Resolver{dir: dir, log: logger}
}

// Expand appends the content of every mentioned planning document to the
// prompt. Unknown documents are skipped. The prompt itself is returned
// unchanged when there are no mentions.
func (r *Resolver) Expand(prompt string) string {
	if r == nil || r.dir == "" {
		return prompt
	}
	matches := mentionPattern.FindAllStringSubmatch(prompt, -1)
	if len(matches) == 0 {
		return prompt
	}
	var sections []string
	seen := make(map[string]bool)
	for _, match := range matches {
		name := match[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		content, err := r.read(name)
		if err != nil {
			if r.log != nil {
				r.log.Warn("planning mention unresolved", "doc", name, "err", err)
			}
			continue
		}
		sections = append(sections, fmt.Sprintf("--- planning/%s ---\n%s", name, strings.TrimRight(content, "\n")))
	}
	if len(sections) == 0 {
		return prompt
	}
	return prompt + "\n\n" + strings.Join(sections, "\n\n")
}

func (r *Resolver) read(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errors.New("path escapes planning directory")
	}
	path := filepath.Join(r.dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(r.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errors.New("path escapes planning directory")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			data, err = os.ReadFile(path + ".md")
			if err != nil {
				return "", err
			}
			return string(data), nil
		}
		return "", err
	}
	return string(data), nil
}
