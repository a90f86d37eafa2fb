// Package workspace tracks the domains and loops that bound where turns
// may write. The registry is loaded from a YAML file and may be extended
// at runtime with override tokens granting extra roots.
package workspace

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"pkt.systems/pslog"
	"pkt.systems/steward/schema"
)

// Loop is one workspace loop: a named checkout an agent may edit.
type Loop struct {
	ID     schema.LoopID `yaml:"id"`
	Domain schema.Domain `yaml:"domain"`
	Name   string        `yaml:"name,omitempty"`
	Root   string        `yaml:"root"`
}

// DomainRoots lists extra roots every loop in a domain may touch.
type DomainRoots struct {
	Domain schema.Domain `yaml:"domain"`
	Roots  []string      `yaml:"roots"`
}

type registryFile struct {
	Domains []DomainRoots `yaml:"domains"`
	Loops   []Loop        `yaml:"loops"`
}

// Registry resolves loops and domains to filesystem roots.
type Registry struct {
	mu        sync.RWMutex
	loops     map[schema.LoopID]Loop
	domains   map[schema.Domain][]string
	overrides map[schema.ScopeOverrideToken][]string
	log       pslog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger pslog.Logger) *Registry {
	return &Registry{
		loops:     make(map[schema.LoopID]Loop),
		domains:   make(map[schema.Domain][]string),
		overrides: make(map[schema.ScopeOverrideToken][]string),
		log:       logger,
	}
}

// LoadFile replaces the registry content from a YAML file. A missing
// file leaves the registry empty.
func LoadFile(path string, logger pslog.Logger) (*Registry, error) {
	reg := NewRegistry(logger)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return reg, nil
		}
		return nil, err
	}
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	for _, domain := range file.Domains {
		reg.domains[domain.Domain] = append([]string{}, domain.Roots...)
	}
	for _, loop := range file.Loops {
		if err := schema.ValidateLoopID(loop.ID); err != nil {
			return nil, err
		}
		reg.loops[loop.ID] = loop
	}
	if logger != nil {
		logger.Debug("workspace registry loaded", "path", path, "loops", len(reg.loops), "domains", len(reg.domains))
	}
	return reg, nil
}

// RegisterLoop adds or replaces a loop.
func (r *Registry) RegisterLoop(loop Loop) error {
	if err := schema.ValidateLoopID(loop.ID); err != nil {
		return err
	}
	if strings.TrimSpace(loop.Root) == "" {
		return errors.New("loop root is required")
	}
	r.mu.Lock()
	r.loops[loop.ID] = loop
	r.mu.Unlock()
	if r.log != nil {
		r.log.Info("workspace loop registered", "loop", loop.ID, "domain", loop.Domain)
	}
	return nil
}

// Loop returns the loop record for an id.
func (r *Registry) Loop(id schema.LoopID) (Loop, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loop, ok := r.loops[id]
	return loop, ok
}

// ListLoops returns all loops sorted by id.
func (r *Registry) ListLoops() []Loop {
	r.mu.RLock()
	loops := make([]Loop, 0, len(r.loops))
	for _, loop := range r.loops {
		loops = append(loops, loop)
	}
	r.mu.RUnlock()
	sort.Slice(loops, func(i, j int) bool { return loops[i].ID < loops[j].ID })
	return loops
}

// DomainRoots returns the extra roots configured for a domain.
func (r *Registry) DomainRoots(domain schema.Domain) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.domains[domain]...)
}

// SetDomainRoots replaces the extra roots for a domain.
func (r *Registry) SetDomainRoots(domain schema.Domain, roots []string) {
	r.mu.Lock()
	r.domains[domain] = append([]string{}, roots...)
	r.mu.Unlock()
}

// MintOverride issues a single-use token granting extra roots.
func (r *Registry) MintOverride(roots []string) (schema.ScopeOverrideToken, error) {
	if len(roots) == 0 {
		return "", errors.New("override roots are required")
	}
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := schema.ScopeOverrideToken(hex.EncodeToString(buf))
	r.mu.Lock()
	r.overrides[token] = append([]string{}, roots...)
	r.mu.Unlock()
	if r.log != nil {
		r.log.Info("scope override minted", "roots", len(roots))
	}
	return token, nil
}

// ConsumeOverride redeems a token, removing it from the registry.
func (r *Registry) ConsumeOverride(token schema.ScopeOverrideToken) ([]string, bool) {
	if token == "" {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	roots, ok := r.overrides[token]
	if !ok {
		return nil, false
	}
	delete(r.overrides, token)
	return roots, true
}
