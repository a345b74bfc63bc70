package compiler

import (
	"context"
	"fmt"
	"sort"

	"nlsql-workers/internal/common/logger"
	"nlsql-workers/internal/engine/inflect"
	"nlsql-workers/internal/models"
)

// JoinRequest asks a strategy to connect Target to a table already in scope.
type JoinRequest struct {
	DBAlias string
	Target  string
	// InScope lists the tables already joined, main table first.
	InScope []string
	Spec    *models.QuerySpec
}

// InferredJoin is a synthesized join and how it was found.
type InferredJoin struct {
	Join     models.JoinSpec
	Strategy string
}

// JoinInferenceStrategy derives a join for a table the caller did not join explicitly.
// Infer returns ok=false when it has no opinion so the next strategy is tried.
type JoinInferenceStrategy interface {
	Name() string
	Infer(ctx context.Context, req JoinRequest) (join models.JoinSpec, ok bool, err error)
}

// RelationshipCatalog exposes foreign-key metadata by table name.
type RelationshipCatalog interface {
	Relationships(ctx context.Context, dbAlias, table string) ([]models.RelationshipMetadata, error)
}

// ColumnCatalog exposes column names by table name.
type ColumnCatalog interface {
	ColumnNames(ctx context.Context, dbAlias, table string) ([]string, error)
}

// ==========================
// Explicit joins
// ==========================

// ExplicitJoinStrategy reuses a structured join from the spec that names the target on its left side,
// flipping it so the target becomes the joined table.
type ExplicitJoinStrategy struct{}

func (ExplicitJoinStrategy) Name() string { return "explicit" }

func (ExplicitJoinStrategy) Infer(_ context.Context, req JoinRequest) (models.JoinSpec, bool, error) {
	if req.Spec == nil {
		return models.JoinSpec{}, false, nil
	}
	for _, j := range req.Spec.Joins {
		if !j.IsStructured() || !j.Complete() || j.LeftTable != req.Target {
			continue
		}
		if !contains(req.InScope, j.RightTable) {
			continue
		}
		return models.JoinSpec{
			LeftTable:  j.RightTable,
			LeftField:  j.RightField,
			RightTable: j.LeftTable,
			RightField: j.LeftField,
			JoinType:   j.JoinType,
		}, true, nil
	}
	return models.JoinSpec{}, false, nil
}

// ==========================
// Foreign-key catalog
// ==========================

// ForeignKeyCatalogStrategy looks the link up in the schema catalog.
type ForeignKeyCatalogStrategy struct {
	Catalog RelationshipCatalog
}

func (ForeignKeyCatalogStrategy) Name() string { return "foreign_key" }

func (s ForeignKeyCatalogStrategy) Infer(ctx context.Context, req JoinRequest) (models.JoinSpec, bool, error) {
	if s.Catalog == nil {
		return models.JoinSpec{}, false, nil
	}
	rels, err := s.Catalog.Relationships(ctx, req.DBAlias, req.Target)
	if err != nil {
		return models.JoinSpec{}, false, err
	}
	sort.SliceStable(rels, func(i, j int) bool { return rels[i].Key() < rels[j].Key() })

	// prefer the earliest table in scope, so the main table wins
	for _, scoped := range req.InScope {
		for _, r := range rels {
			switch {
			case r.FromTable == scoped && r.ToTable == req.Target:
				return models.JoinSpec{
					LeftTable: scoped, LeftField: r.FromColumn,
					RightTable: req.Target, RightField: r.ToColumn,
				}, true, nil
			case r.ToTable == scoped && r.FromTable == req.Target:
				return models.JoinSpec{
					LeftTable: scoped, LeftField: r.ToColumn,
					RightTable: req.Target, RightField: r.FromColumn,
				}, true, nil
			}
		}
	}
	return models.JoinSpec{}, false, nil
}

// ==========================
// Naming heuristic
// ==========================

// NamingHeuristicStrategy guesses a link from <table>_id style column names. Without a column
// catalog it assumes the main table carries <singular target>_id referencing target.id.
type NamingHeuristicStrategy struct {
	Columns ColumnCatalog
}

func (NamingHeuristicStrategy) Name() string { return "naming_heuristic" }

func (s NamingHeuristicStrategy) Infer(ctx context.Context, req JoinRequest) (models.JoinSpec, bool, error) {
	if len(req.InScope) == 0 {
		return models.JoinSpec{}, false, nil
	}
	if s.Columns == nil {
		return models.JoinSpec{
			LeftTable: req.InScope[0], LeftField: inflect.Singular(req.Target) + "_id",
			RightTable: req.Target, RightField: "id",
		}, true, nil
	}

	targetCols, err := s.Columns.ColumnNames(ctx, req.DBAlias, req.Target)
	if err != nil {
		return models.JoinSpec{}, false, err
	}
	targetSet := toSet(targetCols)

	for _, scoped := range req.InScope {
		scopedCols, err := s.Columns.ColumnNames(ctx, req.DBAlias, scoped)
		if err != nil {
			return models.JoinSpec{}, false, err
		}
		scopedSet := toSet(scopedCols)

		// scoped table points at target
		if targetSet["id"] {
			for _, fk := range fkCandidates(req.Target) {
				if scopedSet[fk] {
					return models.JoinSpec{
						LeftTable: scoped, LeftField: fk,
						RightTable: req.Target, RightField: "id",
					}, true, nil
				}
			}
		}
		// target points at scoped table
		if scopedSet["id"] {
			for _, fk := range fkCandidates(scoped) {
				if targetSet[fk] {
					return models.JoinSpec{
						LeftTable: scoped, LeftField: "id",
						RightTable: req.Target, RightField: fk,
					}, true, nil
				}
			}
		}
	}
	return models.JoinSpec{}, false, nil
}

func fkCandidates(table string) []string {
	singular := inflect.Singular(table)
	if singular == table {
		return []string{table + "_id"}
	}
	return []string{singular + "_id", table + "_id"}
}

// ==========================
// Chain
// ==========================

// JoinInferrer walks strategies in order; the first that answers wins.
type JoinInferrer struct {
	strategies []JoinInferenceStrategy
	log        logger.Logger
}

func NewJoinInferrer(log logger.Logger, strategies ...JoinInferenceStrategy) *JoinInferrer {
	return &JoinInferrer{strategies: strategies, log: log}
}

// DefaultStrategies returns explicit > foreign key > naming heuristic, dropping the heuristic when disabled.
func DefaultStrategies(rels RelationshipCatalog, cols ColumnCatalog, disableHeuristic bool) []JoinInferenceStrategy {
	chain := []JoinInferenceStrategy{
		ExplicitJoinStrategy{},
		ForeignKeyCatalogStrategy{Catalog: rels},
	}
	if !disableHeuristic {
		chain = append(chain, NamingHeuristicStrategy{Columns: cols})
	}
	return chain
}

func (c *JoinInferrer) Infer(ctx context.Context, req JoinRequest) (*InferredJoin, error) {
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		join, ok, err := s.Infer(ctx, req)
		if err != nil {
			c.log.Warn("Join inference strategy failed", map[string]interface{}{
				"strategy": s.Name(),
				"target":   req.Target,
				"error":    err.Error(),
			})
			continue
		}
		if ok {
			if join.JoinType == "" {
				join.JoinType = "LEFT"
			}
			return &InferredJoin{Join: join, Strategy: s.Name()}, nil
		}
	}
	return nil, fmt.Errorf("no join could be inferred for table %s", req.Target)
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
