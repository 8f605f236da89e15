package planner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/c360/fedgateway/errors"
	"github.com/c360/fedgateway/health"
	"github.com/c360/fedgateway/metric"
	"github.com/c360/fedgateway/pkg/cache"
	"github.com/c360/fedgateway/schema"
)

// Config holds planner settings.
type Config struct {
	// CacheSize bounds the plan cache (LRU beyond this)
	CacheSize int `json:"cache_size" yaml:"cache_size"`
	// CacheTTL expires cached plans
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.CacheSize < 0 || c.CacheTTL < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "negative cache bound")
	}
	if c.CacheSize == 0 {
		c.CacheSize = 1000
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 5 * time.Minute
	}
	return nil
}

// Planner builds and caches fetch plans against composed schema
// snapshots.
type Planner struct {
	config  Config
	health  health.Reader
	logger  *slog.Logger
	metrics *metric.Metrics
	cache   *cache.Cache[*Plan]
}

// New creates a planner. healthReader, metrics and registry may be nil;
// registry only feeds the plan cache's Prometheus counters.
func New(ctx context.Context, config Config, healthReader health.Reader, logger *slog.Logger, metrics *metric.Metrics, registry *metric.MetricsRegistry) (*Planner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []cache.Option[*Plan]
	if registry != nil {
		opts = append(opts, cache.WithMetrics[*Plan](registry, "plan_cache"))
	}
	planCache, err := cache.New[*Plan](ctx, config.CacheSize, config.CacheTTL, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "Planner", "New", "create plan cache")
	}

	return &Planner{
		config:  config,
		health:  healthReader,
		logger:  logger.With("component", "planner"),
		metrics: metrics,
		cache:   planCache,
	}, nil
}

// Close releases the plan cache.
func (p *Planner) Close() error {
	return p.cache.Close()
}

// Plan parses the query and returns a fetch plan, reusing a cached plan
// when the signature, schema generation, and Down set all match. A
// generation change clears the whole cache.
func (p *Planner) Plan(composed *schema.Composed, query, operationName string, variables map[string]any) (*Plan, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		p.recordPlanningError()
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidQuery, err),
			"Planner", "Plan", "parse query")
	}

	op, err := pickOperation(doc, operationName)
	if err != nil {
		p.recordPlanningError()
		return nil, err
	}

	sig := signature(doc, op, variables)
	excluded := p.exclusions(composed)

	if cached, ok := p.cache.Get(sig); ok {
		if cached.Generation == composed.Generation && cached.sameExclusions(excluded) {
			return cached, nil
		}
		if cached.Generation != composed.Generation {
			p.cache.Clear()
			p.logger.Info("plan cache invalidated",
				"old_generation", cached.Generation,
				"new_generation", composed.Generation)
		}
	}

	b := newBuilder(composed, doc, excluded)
	plan, err := b.build(op)
	if err != nil {
		p.recordPlanningError()
		return nil, err
	}
	for _, node := range plan.Nodes {
		renderNode(op, node)
	}
	plan.Signature = sig
	plan.Generation = composed.Generation
	plan.ClientOperation = op
	plan.Fragments = b.fragments

	if _, err := p.cache.Set(sig, plan); err != nil {
		// Never fail planning over a cache insert.
		p.logger.Warn("plan cache insert failed", "error", err)
	}
	if p.metrics != nil {
		p.metrics.RecordPlanBuilt()
	}
	p.logger.Debug("plan built",
		"signature", sig,
		"nodes", len(plan.Nodes),
		"blocked", len(plan.Blocked),
		"generation", plan.Generation)
	return plan, nil
}

// CacheSize returns the number of cached plans.
func (p *Planner) CacheSize() int {
	return p.cache.Size()
}

func (p *Planner) exclusions(composed *schema.Composed) map[string]bool {
	if p.health == nil {
		return nil
	}
	var excluded map[string]bool
	for _, name := range composed.Subgraphs {
		if p.health.IsDown(name) {
			if excluded == nil {
				excluded = make(map[string]bool)
			}
			excluded[name] = true
		}
	}
	return excluded
}

func (p *Planner) recordPlanningError() {
	if p.metrics != nil {
		p.metrics.RecordPlanningError()
	}
}

func pickOperation(doc *ast.QueryDocument, name string) (*ast.OperationDefinition, error) {
	if name != "" {
		if op := doc.Operations.ForName(name); op != nil {
			return op, nil
		}
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: operation %q not found", errors.ErrInvalidQuery, name),
			"Planner", "pickOperation", "operation selection")
	}
	if len(doc.Operations) == 1 {
		return doc.Operations[0], nil
	}
	return nil, errors.WrapInvalid(
		fmt.Errorf("%w: operationName required for multi-operation documents", errors.ErrInvalidQuery),
		"Planner", "pickOperation", "operation selection")
}

// signature keys the plan cache: the formatted (normalized) document,
// the operation name, and the shape of the provided variables. Declared
// variable types are part of the normalized text.
func signature(doc *ast.QueryDocument, op *ast.OperationDefinition, variables map[string]any) string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)

	names := make([]string, 0, len(variables))
	for name := range variables {
		names = append(names, name)
	}
	sort.Strings(names)

	h := xxhash.New()
	_, _ = h.Write(buf.Bytes())
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(op.Name)
	for _, name := range names {
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(name)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
