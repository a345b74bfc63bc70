// Package mapping resolves business synonyms to canonical terms.
package mapping

import (
	"context"
	"sort"
	"strings"
	"time"

	"nlsql-workers/internal/common/errors"
	"nlsql-workers/internal/common/logger"
	"nlsql-workers/internal/engine/cache"
)

const (
	CategoryMetric    = "metric"
	CategoryDimension = "dimension"
	CategoryEntity    = "entity"
)

// ConceptMapping maps one synonym to its canonical term. A nil DBAlias applies to every datasource.
type ConceptMapping struct {
	Synonym   string  `json:"synonym" yaml:"synonym"`
	Canonical string  `json:"canonical" yaml:"canonical"`
	Category  string  `json:"category" yaml:"category"`
	DBAlias   *string `json:"db_alias,omitempty" yaml:"db_alias,omitempty"`
}

// Store loads the mappings visible to a datasource: global ones plus its own.
type Store interface {
	Load(ctx context.Context, dbAlias string) ([]ConceptMapping, error)
}

// Snapshot is an immutable view of the mappings for one datasource.
type Snapshot struct {
	bySynonym map[string]ConceptMapping
	ordered   []ConceptMapping
}

// NewSnapshot indexes mappings. Datasource-specific entries win over global ones with the same synonym.
func NewSnapshot(mappings []ConceptMapping) Snapshot {
	s := Snapshot{bySynonym: make(map[string]ConceptMapping, len(mappings))}
	for _, m := range mappings {
		key := strings.ToLower(strings.TrimSpace(m.Synonym))
		if key == "" || m.Canonical == "" {
			continue
		}
		m.Synonym = key
		if existing, ok := s.bySynonym[key]; ok && existing.DBAlias != nil && m.DBAlias == nil {
			continue
		}
		s.bySynonym[key] = m
	}

	for _, m := range s.bySynonym {
		s.ordered = append(s.ordered, m)
	}
	// longest synonym first so multi-word phrases are replaced before their parts
	sort.Slice(s.ordered, func(i, j int) bool {
		a, b := s.ordered[i].Synonym, s.ordered[j].Synonym
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
	return s
}

// Lookup finds the mapping for a term, case-insensitively.
func (s Snapshot) Lookup(term string) (ConceptMapping, bool) {
	m, ok := s.bySynonym[strings.ToLower(strings.TrimSpace(term))]
	return m, ok
}

// Mappings returns every mapping, longest synonym first.
func (s Snapshot) Mappings() []ConceptMapping {
	out := make([]ConceptMapping, len(s.ordered))
	copy(out, s.ordered)
	return out
}

func (s Snapshot) Len() int { return len(s.ordered) }

// Resolver serves snapshots, caching them per datasource.
type Resolver struct {
	store Store
	cache cache.Cache
	ttl   time.Duration
	log   logger.Logger
}

// NewResolver builds a Resolver. c may be nil to disable caching.
func NewResolver(store Store, c cache.Cache, ttl time.Duration, log logger.Logger) *Resolver {
	return &Resolver{store: store, cache: c, ttl: ttl, log: log}
}

func cacheKey(dbAlias string) string {
	return "mapping:" + dbAlias
}

// Snapshot returns the mappings for dbAlias. Cache failures are logged and bypassed.
func (r *Resolver) Snapshot(ctx context.Context, dbAlias string) (Snapshot, error) {
	if r.cache != nil {
		var cached []ConceptMapping
		ok, err := cache.GetJSON(ctx, r.cache, cacheKey(dbAlias), &cached)
		if err != nil {
			r.log.Warn("Mapping cache read failed", map[string]interface{}{
				"databaseAlias": dbAlias,
				"error":         err.Error(),
			})
		}
		if ok {
			return NewSnapshot(cached), nil
		}
	}

	mappings, err := r.store.Load(ctx, dbAlias)
	if err != nil {
		return Snapshot{}, errors.NewConceptMappingFailedError(err)
	}

	if r.cache != nil {
		if err := cache.SetJSON(ctx, r.cache, cacheKey(dbAlias), mappings, r.ttl); err != nil {
			r.log.Warn("Mapping cache write failed", map[string]interface{}{
				"databaseAlias": dbAlias,
				"error":         err.Error(),
			})
		}
	}
	return NewSnapshot(mappings), nil
}

// Resolve maps a single term to its canonical form.
func (r *Resolver) Resolve(ctx context.Context, dbAlias, term string) (string, bool, error) {
	snap, err := r.Snapshot(ctx, dbAlias)
	if err != nil {
		return "", false, err
	}
	m, ok := snap.Lookup(term)
	if !ok {
		return "", false, nil
	}
	return m.Canonical, true, nil
}
