// Package tenantconfig implements the Tenant Config Loader (C5): JSON
// industry templates deep-merged with per-tenant overrides, cached
// in-process and invalidated by an fsnotify watch on the config
// directory.
package tenantconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// identityFields are copied verbatim from a tenant override onto the
// merged config, overwriting whatever the template carries.
var identityFields = []string{"username", "display_name", "bucket", "dashboard_url", "industry"}

// rawConfig is the generic JSON shape both templates and tenant
// overrides are loaded as; the merge runs over maps rather than a
// fixed struct because tenants attach arbitrary extra column metadata
// the loader only ever passes through.
type rawConfig map[string]interface{}

// Loader loads, merges, and caches tenant configs.
type Loader struct {
	dir             string
	defaultIndustry string
	log             *zap.Logger

	mu             sync.RWMutex
	templateCache  map[string]rawConfig
	configCache    map[string]rawConfig
	tenantIndustry map[string]string // tenant -> industry it was merged against, for template-invalidation fan-out

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewLoader builds a Loader watching dir for *.json changes. Watching
// is best-effort: if the directory cannot be watched (e.g. it doesn't
// exist yet), the loader still works, just without cache invalidation
// on external writes.
func NewLoader(dir, defaultIndustry string, logger *zap.Logger) (*Loader, error) {
	l := &Loader{
		dir:             dir,
		defaultIndustry: defaultIndustry,
		log:             logger,
		templateCache:   make(map[string]rawConfig),
		configCache:     make(map[string]rawConfig),
		tenantIndustry:  make(map[string]string),
		done:            make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		logger.Warn("tenant config directory not watchable, cache invalidation disabled",
			zap.String("dir", dir), zap.Error(err))
		_ = watcher.Close()
		return l, nil
	}
	l.watcher = watcher
	go l.watch()
	return l, nil
}

// Close stops the directory watch.
func (l *Loader) Close() error {
	if l.watcher == nil {
		return nil
	}
	close(l.done)
	return l.watcher.Close()
}

func (l *Loader) watch() {
	for {
		select {
		case <-l.done:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			l.invalidate(event.Name)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.log.Warn("tenant config watch error", zap.Error(err))
		}
	}
}

func (l *Loader) invalidate(path string) {
	name := strings.TrimSuffix(filepath.Base(path), ".json")

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, isTemplate := l.templateCache[name]; isTemplate {
		delete(l.templateCache, name)
		for tenant, industry := range l.tenantIndustry {
			if industry == name {
				delete(l.configCache, tenant)
				delete(l.tenantIndustry, tenant)
			}
		}
		l.log.Debug("invalidated template cache", zap.String("industry", name))
		return
	}

	delete(l.configCache, name)
	delete(l.configCache, strings.ToLower(name))
	delete(l.tenantIndustry, name)
	l.log.Debug("invalidated tenant config cache", zap.String("tenant", name))
}

// Get returns the merged config for tenant: the tenant's override
// file deep-merged onto its "extends_template" industry template, or
// onto the loader's default industry template if it names none. When
// that template cannot be loaded, the override alone is returned.
// bypassCache forces a fresh read from disk regardless of what's cached.
func (l *Loader) Get(tenant string, bypassCache bool) (map[string]interface{}, error) {
	if !bypassCache {
		l.mu.RLock()
		cached, ok := l.configCache[tenant]
		l.mu.RUnlock()
		if ok {
			return cloneRaw(cached), nil
		}
	}

	path, err := l.resolveTenantPath(tenant)
	if err != nil {
		return nil, err
	}

	override, err := readJSON(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant config %s: %w", tenant, err)
	}

	merged := override
	industry := l.defaultIndustry
	if v, ok := override["extends_template"].(string); ok && v != "" {
		industry = v
	}
	if industry != "" {
		template, err := l.loadTemplate(industry, bypassCache)
		if err != nil {
			l.log.Warn("template not found for tenant, using override only",
				zap.String("tenant", tenant), zap.String("industry", industry), zap.Error(err))
		} else {
			merged = mergeConfigs(template, override)
		}
	}

	l.mu.Lock()
	l.configCache[tenant] = merged
	if industry != "" {
		l.tenantIndustry[tenant] = industry
	}
	l.mu.Unlock()

	return cloneRaw(merged), nil
}

// resolveTenantPath implements the case-preferring lookup: exact
// tenant name first, then a lowercase fallback.
func (l *Loader) resolveTenantPath(tenant string) (string, error) {
	exact := filepath.Join(l.dir, tenant+".json")
	if _, err := os.Stat(exact); err == nil {
		return exact, nil
	}

	lower := filepath.Join(l.dir, strings.ToLower(tenant)+".json")
	if _, err := os.Stat(lower); err == nil {
		return lower, nil
	}

	return "", fmt.Errorf("tenant config not found: %s (checked %s and %s)", tenant, exact, lower)
}

func (l *Loader) loadTemplate(industry string, bypassCache bool) (rawConfig, error) {
	if !bypassCache {
		l.mu.RLock()
		cached, ok := l.templateCache[industry]
		l.mu.RUnlock()
		if ok {
			return cached, nil
		}
	}

	path := filepath.Join(l.dir, industry+".json")
	template, err := readJSON(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load industry template %s: %w", industry, err)
	}

	l.mu.Lock()
	l.templateCache[industry] = template
	l.mu.Unlock()

	return template, nil
}

// mergeConfigs applies the deep-merge policy: identity fields copy
// from the override; column_label_overrides patches matching
// db_column entries in every template.columns.* section; an override
// "gemini" or "columns" block replaces the template's wholesale.
func mergeConfigs(template, override rawConfig) rawConfig {
	merged := cloneRaw(template)

	for _, key := range identityFields {
		if v, ok := override[key]; ok {
			merged[key] = v
		}
	}

	if overrides, ok := override["column_label_overrides"].(map[string]interface{}); ok {
		if columns, ok := merged["columns"].(map[string]interface{}); ok {
			for _, section := range columns {
				applyLabelOverrides(section, overrides)
			}
		}
	}

	if v, ok := override["gemini"]; ok {
		merged["gemini"] = v
	}

	if v, ok := override["columns"]; ok {
		merged["columns"] = v
	}

	return merged
}

func applyLabelOverrides(section interface{}, overrides map[string]interface{}) {
	columns, ok := section.([]interface{})
	if !ok {
		return
	}
	for _, c := range columns {
		column, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		dbColumn, _ := column["db_column"].(string)
		if label, ok := overrides[dbColumn]; ok {
			column["label"] = label
		}
	}
}

// SystemPrompt returns config["gemini"]["system_instruction"] for
// tenant, the extraction prompt C6 sends with every vision call.
func (l *Loader) SystemPrompt(tenant string) (string, error) {
	cfg, err := l.Get(tenant, false)
	if err != nil {
		return "", err
	}
	gemini, _ := cfg["gemini"].(map[string]interface{})
	prompt, _ := gemini["system_instruction"].(string)
	return prompt, nil
}

// Columns returns the column definitions for tenant's named section
// (e.g. "invoice_all", "verify_dates", "verify_amounts", "verified").
func (l *Loader) Columns(tenant, section string) ([]interface{}, error) {
	cfg, err := l.Get(tenant, false)
	if err != nil {
		return nil, err
	}
	columns, _ := cfg["columns"].(map[string]interface{})
	list, _ := columns[section].([]interface{})
	return list, nil
}

// Industry returns config["industry"] for tenant, the label C6's
// prompt identifies the tenant's line of business by.
func (l *Loader) Industry(tenant string) (string, error) {
	cfg, err := l.Get(tenant, false)
	if err != nil {
		return "", err
	}
	industry, _ := cfg["industry"].(string)
	if industry == "" {
		industry = l.defaultIndustry
	}
	return industry, nil
}

func readJSON(path string) (rawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out rawConfig
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	return out, nil
}

// cloneRaw deep-copies a rawConfig via a JSON round trip so callers
// (and the cache) never share mutable nested maps/slices.
func cloneRaw(in rawConfig) rawConfig {
	data, err := json.Marshal(in)
	if err != nil {
		return rawConfig{}
	}
	var out rawConfig
	if err := json.Unmarshal(data, &out); err != nil {
		return rawConfig{}
	}
	return out
}
