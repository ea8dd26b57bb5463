// Package collections manages the YAML registry of entity collections.
// Each collection names a persisted record kind together with the
// similarity threshold and candidate count used when resolving against it.
package collections

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Well-known collection names.
const (
	Organizations = "organizations"
	Sources       = "sources"
	Stories       = "stories"
	Clusters      = "clusters"
)

// Collection describes a named record kind and its resolution settings.
type Collection struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Threshold   float64 `yaml:"threshold"`
	CandidateK  int     `yaml:"candidate_k"`
}

// Config is the top-level YAML structure.
type Config struct {
	Collections []Collection `yaml:"collections"`
}

// Registry holds loaded collections, keyed by name.
type Registry struct {
	byName map[string]*Collection
	order  []string // preserves definition order
}

// Builtin returns the default registry. The thresholds are empirical
// tuning values, not invariants; a YAML file can override any of them.
func Builtin() *Registry {
	r := &Registry{byName: make(map[string]*Collection)}
	for _, c := range []Collection{
		{Name: Organizations, Description: "canonical organizations", Threshold: 0.9, CandidateK: 10},
		{Name: Sources, Description: "canonical information sources", Threshold: 0.9, CandidateK: 10},
		{Name: Stories, Description: "near-duplicate-suppressed story records", Threshold: 0.98, CandidateK: 10},
		{Name: Clusters, Description: "persisted topical clusters", Threshold: 0.9, CandidateK: 3},
	} {
		r.put(c)
	}
	return r
}

// Load reads the YAML file at path and returns a Registry of the builtin
// collections with file entries merged over them. If the file does not
// exist, Load returns the builtin registry (not an error).
func Load(path string) (*Registry, error) {
	r := Builtin()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse collections config: %w", err)
	}

	for _, c := range cfg.Collections {
		if c.Name == "" {
			continue
		}
		if existing, ok := r.byName[c.Name]; ok {
			if c.Threshold > 0 {
				existing.Threshold = c.Threshold
			}
			if c.CandidateK > 0 {
				existing.CandidateK = c.CandidateK
			}
			if c.Description != "" {
				existing.Description = c.Description
			}
			continue
		}
		r.put(c)
	}
	return r, nil
}

func (r *Registry) put(c Collection) {
	cc := c
	if cc.CandidateK <= 0 {
		cc.CandidateK = 10
	}
	r.byName[cc.Name] = &cc
	r.order = append(r.order, cc.Name)
}

// Get returns a collection by name. Returns (nil, false) if not found.
func (r *Registry) Get(name string) (*Collection, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// MustGet returns a collection by name, panicking when absent. Intended
// for the well-known builtin names.
func (r *Registry) MustGet(name string) *Collection {
	c, ok := r.byName[name]
	if !ok {
		panic("collections: unknown collection " + name)
	}
	return c
}

// All returns all collections in definition order.
func (r *Registry) All() []*Collection {
	result := make([]*Collection, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.byName[name])
	}
	return result
}
