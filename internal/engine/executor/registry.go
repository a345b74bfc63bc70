package executor

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"nlsql-workers/internal/common/config"
	"nlsql-workers/internal/common/database"
)

var drivers = map[string]string{
	"postgres": "postgres",
	"sqlite":   "sqlite",
}

// Datasource is one registered external database queries run against.
type Datasource struct {
	Alias        string
	Driver       string
	DB           *sql.DB
	QueryTimeout time.Duration
	MaxRows      int
}

// Registry maps datasource aliases to open handles.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*Datasource
}

func NewRegistry() *Registry {
	return &Registry{sources: map[string]*Datasource{}}
}

// OpenRegistry opens every configured datasource. Handles are lazy; nothing is dialled until first use.
func OpenRegistry(cfgs map[string]config.DatasourceConfig) (*Registry, error) {
	r := NewRegistry()

	aliases := make([]string, 0, len(cfgs))
	for alias := range cfgs {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	for _, alias := range aliases {
		cfg := cfgs[alias]
		driver, ok := drivers[cfg.Driver]
		if !ok {
			r.Close()
			return nil, fmt.Errorf("datasource %s: unsupported driver %q", alias, cfg.Driver)
		}
		db, err := database.Open(driver, cfg.DSN, cfg.MaxConnections)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("datasource %s: %w", alias, err)
		}
		r.Register(&Datasource{
			Alias:        alias,
			Driver:       cfg.Driver,
			DB:           db,
			QueryTimeout: config.GetDuration(cfg.QueryTimeout),
			MaxRows:      cfg.MaxRows,
		})
	}
	return r, nil
}

// Register adds or replaces a datasource.
func (r *Registry) Register(ds *Datasource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[ds.Alias] = ds
}

func (r *Registry) Get(alias string) (*Datasource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ds, ok := r.sources[alias]
	return ds, ok
}

// Aliases lists the registered datasources in sorted order.
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sources))
	for alias := range r.sources {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// ConnectionExists reports whether alias is registered and answers a ping.
func (r *Registry) ConnectionExists(ctx context.Context, alias string) (bool, error) {
	ds, ok := r.Get(alias)
	if !ok {
		return false, nil
	}
	if err := ds.DB.PingContext(ctx); err != nil {
		return false, fmt.Errorf("ping %s: %w", alias, err)
	}
	return true, nil
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for alias, ds := range r.sources {
		if err := ds.DB.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", alias, err)
		}
	}
	r.sources = map[string]*Datasource{}
	return firstErr
}
