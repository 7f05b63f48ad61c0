// Package tenant loads, validates, and serves immutable tenant
// configuration snapshots.
package tenant

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/observability"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/qerrors"
)

// Defaults applied to connector configs that omit optional fields.
const (
	defaultAuthType    = "bearer"
	defaultTransport   = "rest"
	defaultGraphQLPath = "/graphql"
	defaultCapacity    = 50
	defaultRefillRate  = 10.0
	defaultTTLMS       = 60_000
	defaultPageSize    = 100
	defaultAPIBudget   = 1000
)

// Registry serves TenantConfig snapshots loaded from a directory of
// YAML documents, one file per tenant. Reads are lock-protected map
// lookups; reloads swap the whole map atomically so readers never
// observe a half-loaded state.
type Registry struct {
	dir      string
	validate *validator.Validate
	logger   observability.Logger

	mu      sync.RWMutex
	configs map[string]*models.TenantConfig
}

// NewRegistry creates a registry over the given config directory.
func NewRegistry(dir string, logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NewLogger("tenant.registry")
	}
	return &Registry{
		dir:      dir,
		validate: validator.New(),
		logger:   logger,
		configs:  map[string]*models.TenantConfig{},
	}
}

// LoadAll scans the config directory and parses every *.yaml / *.yml
// document into a TenantConfig. The in-memory map is replaced only when
// every document validates; on any failure the previous snapshot is
// preserved and a CONFIG_INVALID error is returned.
func (r *Registry) LoadAll() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return qerrors.Wrap(qerrors.KindConfigInvalid, err,
			fmt.Sprintf("tenant config directory not found: %s", r.dir))
	}

	next := map[string]*models.TenantConfig{}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(r.dir, name)
		cfg, err := r.loadOne(path)
		if err != nil {
			r.logger.Error("failed to load tenant config", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			return err
		}
		next[cfg.TenantID] = cfg
		r.logger.Info("loaded tenant config", map[string]interface{}{
			"tenant_id": cfg.TenantID,
			"file":      name,
		})
	}

	r.mu.Lock()
	r.configs = next
	r.mu.Unlock()

	r.logger.Info("tenant registry loaded", map[string]interface{}{
		"tenants": len(next),
	})
	return nil
}

func (r *Registry) loadOne(path string) (*models.TenantConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindConfigInvalid, err, "read tenant config")
	}

	var cfg models.TenantConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, qerrors.Wrap(qerrors.KindConfigInvalid, err,
			fmt.Sprintf("parse %s", filepath.Base(path)))
	}

	ApplyDefaults(&cfg)
	if err := r.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills omitted optional fields on a tenant config.
func ApplyDefaults(cfg *models.TenantConfig) {
	if cfg.APIBudget == 0 {
		cfg.APIBudget = defaultAPIBudget
	}
	for id, cc := range cfg.ConnectorConfigs {
		if cc == nil {
			continue
		}
		if cc.ConnectorID == "" {
			cc.ConnectorID = id
		}
		if cc.AuthType == "" {
			cc.AuthType = defaultAuthType
		}
		if cc.Transport == "" {
			cc.Transport = defaultTransport
		}
		if cc.GraphQLPath == "" {
			cc.GraphQLPath = defaultGraphQLPath
		}
		if cc.RateLimitCapacity == 0 {
			cc.RateLimitCapacity = defaultCapacity
		}
		if cc.RateLimitRefillRate == 0 {
			cc.RateLimitRefillRate = defaultRefillRate
		}
		if cc.FreshnessTTLMS == 0 {
			cc.FreshnessTTLMS = defaultTTLMS
		}
		if cc.PageSize == 0 {
			cc.PageSize = defaultPageSize
		}
	}
}

// Validate checks required fields, enum membership, and cross-field
// consistency between the table registry and connector configs.
func (r *Registry) Validate(cfg *models.TenantConfig) error {
	if err := r.validate.Struct(cfg); err != nil {
		return qerrors.Wrap(qerrors.KindConfigInvalid, err,
			fmt.Sprintf("tenant %q failed validation", cfg.TenantID))
	}
	for table, target := range cfg.TableRegistry {
		if _, ok := cfg.ConnectorConfigs[target.Connector]; !ok {
			return qerrors.Newf(qerrors.KindConfigInvalid,
				"tenant %q: table %q references unknown connector %q",
				cfg.TenantID, table, target.Connector)
		}
	}
	for _, rule := range cfg.CLSRules {
		if rule.Condition != nil && strings.TrimSpace(*rule.Condition) == "" {
			return qerrors.Newf(qerrors.KindConfigInvalid,
				"tenant %q: cls rule for %q has empty condition", cfg.TenantID, rule.Column)
		}
	}
	return nil
}

// Reload re-scans the directory. Safe under concurrent Get calls.
func (r *Registry) Reload() error {
	r.logger.Info("hot-reloading tenant configs", map[string]interface{}{"dir": r.dir})
	return r.LoadAll()
}

// Get returns the snapshot for tenantID.
func (r *Registry) Get(tenantID string) (*models.TenantConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[tenantID]
	return cfg, ok
}

// TenantIDs returns all registered tenant IDs, sorted.
func (r *Registry) TenantIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.configs))
	for id := range r.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of loaded tenants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configs)
}

// Watch reloads the registry whenever the config directory changes.
// Events are debounced so editors that write multiple times per save
// trigger a single reload. A failed reload keeps the previous snapshot.
// Blocks until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(r.dir); err != nil {
		return err
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(250*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("tenant config watcher error", map[string]interface{}{
				"error": err.Error(),
			})
		case <-reload:
			if err := r.Reload(); err != nil {
				r.logger.Error("tenant config reload failed, keeping previous snapshot",
					map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
