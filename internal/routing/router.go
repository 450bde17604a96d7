package routing

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"migration-engine/internal/models"
)

// DefaultCacheTTL bounds how stale a process-local rule cache may be after a
// rule changes in the store.
const DefaultCacheTTL = 5 * time.Minute

// ruleSource is the slice of the datastore the router needs.
type ruleSource interface {
	ActiveRulesForColumn(ctx context.Context, sourceColumn string) ([]models.ConditionalMappingRule, error)
}

// Decision is the outcome of evaluating a record against a column's rules.
type Decision struct {
	Matched      bool
	RuleID       string
	ActionType   string
	ActionConfig map[string]any
}

type cacheEntry struct {
	rules     []models.ConditionalMappingRule
	fetchedAt time.Time
}

// Router evaluates per-column conditional rules against records. Rules are
// cached per column with a TTL; Invalidate drops the cache when rules change
// through this process.
type Router struct {
	source ruleSource
	logger *zap.Logger
	ttl    time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewRouter creates a router. A ttl of 0 means the default.
func NewRouter(source ruleSource, logger *zap.Logger, ttl time.Duration) *Router {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Router{
		source: source,
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
		cache:  map[string]cacheEntry{},
	}
}

// Evaluate runs the column's active rules against the record in priority
// order and short-circuits on the first match.
func (r *Router) Evaluate(ctx context.Context, sourceColumn string, record models.Record) (Decision, error) {
	rules, err := r.loadRules(ctx, sourceColumn)
	if err != nil {
		return Decision{}, err
	}

	for _, rule := range rules {
		ok, err := matches(rule, record)
		if err != nil {
			r.logger.Warn("rule evaluation failed, skipping rule",
				zap.String("rule_id", rule.ID),
				zap.String("column", sourceColumn),
				zap.Error(err))
			continue
		}
		if ok {
			return Decision{
				Matched:      true,
				RuleID:       rule.ID,
				ActionType:   rule.ActionType,
				ActionConfig: rule.ActionConfig,
			}, nil
		}
	}
	return Decision{}, nil
}

// Invalidate drops cached rules. With an empty column it drops everything.
func (r *Router) Invalidate(sourceColumn string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sourceColumn == "" {
		r.cache = map[string]cacheEntry{}
		return
	}
	delete(r.cache, sourceColumn)
}

func (r *Router) loadRules(ctx context.Context, sourceColumn string) ([]models.ConditionalMappingRule, error) {
	r.mu.RLock()
	entry, ok := r.cache[sourceColumn]
	r.mu.RUnlock()
	if ok && r.now().Sub(entry.fetchedAt) < r.ttl {
		return entry.rules, nil
	}

	rules, err := r.source.ActiveRulesForColumn(ctx, sourceColumn)
	if err != nil {
		return nil, fmt.Errorf("load rules for %s: %w", sourceColumn, err)
	}
	r.mu.Lock()
	r.cache[sourceColumn] = cacheEntry{rules: rules, fetchedAt: r.now()}
	r.mu.Unlock()
	return rules, nil
}

// matches evaluates a single rule's condition against the record. Absent and
// null field values are both treated as null.
func matches(rule models.ConditionalMappingRule, record models.Record) (bool, error) {
	present := record.Has(rule.SourceColumn)

	switch rule.ConditionType {
	case models.ConditionValueNull:
		return !present, nil
	case models.ConditionValueNotNull:
		return present, nil
	}
	if !present {
		return false, nil
	}
	value, _ := record.String(rule.SourceColumn)

	switch rule.ConditionType {
	case models.ConditionValueEquals:
		want, err := configString(rule.ConditionConfig, "value")
		if err != nil {
			return false, err
		}
		return value == want, nil

	case models.ConditionValueIn:
		raw, ok := rule.ConditionConfig["values"]
		if !ok {
			return false, fmt.Errorf("value_in rule missing values")
		}
		list, ok := raw.([]any)
		if !ok {
			return false, fmt.Errorf("value_in values is not a list")
		}
		for _, item := range list {
			if fmt.Sprintf("%v", item) == value {
				return true, nil
			}
		}
		return false, nil

	case models.ConditionValueMatches:
		pattern, err := configString(rule.ConditionConfig, "pattern")
		if err != nil {
			return false, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		return re.MatchString(value), nil

	case models.ConditionValueRange:
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return false, nil // non-numeric values never fall in a range
		}
		if min, ok := configNumber(rule.ConditionConfig, "min"); ok && n < min {
			return false, nil
		}
		if max, ok := configNumber(rule.ConditionConfig, "max"); ok && n > max {
			return false, nil
		}
		return true, nil

	default:
		return false, fmt.Errorf("unknown condition type %q", rule.ConditionType)
	}
}

func configString(cfg map[string]any, key string) (string, error) {
	raw, ok := cfg[key]
	if !ok {
		return "", fmt.Errorf("rule config missing %q", key)
	}
	return fmt.Sprintf("%v", raw), nil
}

func configNumber(cfg map[string]any, key string) (float64, bool) {
	raw, ok := cfg[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(v, 64)
		return n, err == nil
	}
	return 0, false
}
