package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
	"golang.org/x/sync/errgroup"

	"github.com/c360/fedgateway/errors"
	"github.com/c360/fedgateway/health"
	"github.com/c360/fedgateway/metric"
	"github.com/c360/fedgateway/planner"
	"github.com/c360/fedgateway/schema"
	"github.com/c360/fedgateway/subgraph"
)

// Fetcher dispatches GraphQL requests to subgraph endpoints. Implemented
// by the subgraph client.
type Fetcher interface {
	Query(ctx context.Context, endpoint string, req subgraph.Request) (*subgraph.Response, error)
}

// Config holds executor settings.
type Config struct {
	// FetchTimeout bounds a single subgraph fetch
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout"`
	// MaxConcurrentFetches bounds parallel fetches within one level
	MaxConcurrentFetches int `json:"max_concurrent_fetches" yaml:"max_concurrent_fetches"`
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.FetchTimeout < 0 || c.MaxConcurrentFetches < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "negative bound")
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = 5 * time.Second
	}
	if c.MaxConcurrentFetches == 0 {
		c.MaxConcurrentFetches = 10
	}
	return nil
}

// Executor runs fetch plans.
type Executor struct {
	config  Config
	fetcher Fetcher
	health  health.Reader
	logger  *slog.Logger
	metrics *metric.Metrics
}

// New creates an executor. healthReader and metrics may be nil.
func New(config Config, fetcher Fetcher, healthReader health.Reader, logger *slog.Logger, metrics *metric.Metrics) (*Executor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Executor", "New", "fetcher required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		config:  config,
		fetcher: fetcher,
		health:  healthReader,
		logger:  logger.With("component", "executor"),
		metrics: metrics,
	}, nil
}

// outcome is one node's fetch result, merged after the level barrier.
type outcome struct {
	node *planner.FetchNode
	refs []entityRef
	reps []map[string]any
	resp *subgraph.Response
	err  error
	skip bool
}

// Execute runs the plan and returns the merged {data, errors} result.
// Failures never abort sibling branches; they surface as field errors.
func (e *Executor) Execute(ctx context.Context, composed *schema.Composed, plan *planner.Plan, variables map[string]any) *Result {
	sink := &errorSink{}
	merged := make(map[string]any)

	for _, blocked := range plan.Blocked {
		sink.addFieldError(anyPath(blocked.Path), blocked.Subgraph,
			fmt.Sprintf("subgraph %q is down", blocked.Subgraph))
	}

	for _, level := range plan.Levels() {
		e.runLevel(ctx, composed, plan, level, variables, merged, sink)
	}

	proj := &projector{composed: composed, fragments: plan.Fragments}
	data := proj.project(plan.ClientOperation, plan.RootTypenames, merged)
	return &Result{Data: data, Errors: sink.all()}
}

// runLevel dispatches one dependency level. Nodes run concurrently
// (mutation roots serially, per GraphQL ordering) and merge only after
// the whole level has joined.
func (e *Executor) runLevel(ctx context.Context, composed *schema.Composed, plan *planner.Plan, nodes []*planner.FetchNode, variables map[string]any, merged map[string]any, sink *errorSink) {
	outcomes := make([]*outcome, len(nodes))
	sequential := plan.Operation == ast.Mutation && len(nodes) > 0 && !nodes[0].IsEntityFetch()

	g := &errgroup.Group{}
	g.SetLimit(e.config.MaxConcurrentFetches)

	for i, node := range nodes {
		oc := &outcome{node: node}
		outcomes[i] = oc

		if node.IsEntityFetch() {
			oc.refs, oc.reps = e.representations(node, merged, sink)
			if len(oc.reps) == 0 {
				// Parent branch already failed or returned nothing.
				oc.skip = true
				continue
			}
		}
		if e.health != nil && e.health.IsDown(node.Subgraph) {
			oc.err = errors.ErrSubgraphDown
			continue
		}
		endpoint, ok := composed.Endpoint(node.Subgraph)
		if !ok {
			oc.err = errors.ErrSubgraphNotFound
			continue
		}

		req := buildRequest(node, variables, oc.reps)
		run := func() error {
			fctx, cancel := context.WithTimeout(ctx, e.config.FetchTimeout)
			defer cancel()

			start := time.Now()
			resp, err := e.fetcher.Query(fctx, endpoint, req)
			if e.metrics != nil {
				status := "ok"
				if err != nil {
					status = "error"
				}
				e.metrics.RecordFetch(oc.node.Subgraph, status, time.Since(start))
				if oc.node.IsEntityFetch() {
					e.metrics.RecordEntityBatch(len(oc.reps))
				}
			}
			oc.resp, oc.err = resp, err
			return nil
		}
		if sequential {
			_ = run()
		} else {
			g.Go(run)
		}
	}
	_ = g.Wait()

	for _, oc := range outcomes {
		e.mergeOutcome(oc, merged, sink)
	}
}

// representations builds the _entities input from the merged tree,
// validating each entity against the declared key set before any network
// call.
func (e *Executor) representations(node *planner.FetchNode, merged map[string]any, sink *errorSink) ([]entityRef, []map[string]any) {
	refs := collectEntities(merged, node.ParentPath, nil)

	kept := make([]entityRef, 0, len(refs))
	reps := make([]map[string]any, 0, len(refs))
	for _, ref := range refs {
		rep := map[string]any{"__typename": node.ParentType}
		valid := true
		for _, key := range node.KeyFields {
			v, ok := ref.obj[key]
			if !ok || v == nil {
				sink.add(&GraphQLError{
					Message: fmt.Sprintf("%v: missing key field %q for %s",
						errors.ErrRepresentation, key, node.ParentType),
					Path:       ref.path,
					Extensions: map[string]any{"subgraph": node.Subgraph},
				})
				valid = false
				break
			}
			rep[key] = v
		}
		if !valid {
			continue
		}
		for _, req := range node.Requires {
			if v, ok := ref.obj[req]; ok {
				rep[req] = v
			}
		}
		kept = append(kept, ref)
		reps = append(reps, rep)
	}
	return kept, reps
}

func buildRequest(node *planner.FetchNode, variables map[string]any, reps []map[string]any) subgraph.Request {
	vars := make(map[string]any, len(node.Variables)+1)
	for _, name := range node.Variables {
		if v, ok := variables[name]; ok {
			vars[name] = v
		}
	}
	if node.IsEntityFetch() {
		anyReps := make([]any, len(reps))
		for i, rep := range reps {
			anyReps[i] = rep
		}
		vars["representations"] = anyReps
	}
	return subgraph.Request{Query: node.Query, Variables: vars}
}

// mergeOutcome folds one node's result into the shared tree. Runs
// serially after the level barrier, so no locking on the tree.
func (e *Executor) mergeOutcome(oc *outcome, merged map[string]any, sink *errorSink) {
	if oc.skip {
		return
	}
	node := oc.node
	if oc.err != nil {
		e.recordNodeFailure(node, oc.err, sink)
		return
	}

	var data map[string]any
	if len(oc.resp.Data) > 0 {
		if err := json.Unmarshal(oc.resp.Data, &data); err != nil {
			e.recordNodeFailure(node,
				errors.WrapTransient(err, "Executor", "mergeOutcome", "decode subgraph data"), sink)
			return
		}
	}

	if node.IsEntityFetch() {
		e.mergeEntities(node, data, oc.resp.Errors, oc.refs, sink)
		return
	}

	for _, sgErr := range oc.resp.Errors {
		sink.add(&GraphQLError{
			Message:    sgErr.Message,
			Path:       sgErr.Path,
			Extensions: extWithSubgraph(sgErr.Extensions, node.Subgraph),
		})
	}
	if data != nil {
		mergeObject(merged, data)
	}
}

// mergeEntities merges a batched _entities response back by positional
// correspondence with the submitted representations.
func (e *Executor) mergeEntities(node *planner.FetchNode, data map[string]any, sgErrs []*subgraph.Error, refs []entityRef, sink *errorSink) {
	failed := make(map[int]bool)
	for _, sgErr := range sgErrs {
		path, idx := translateEntityPath(sgErr.Path, refs)
		if idx >= 0 {
			failed[idx] = true
		}
		sink.add(&GraphQLError{
			Message:    sgErr.Message,
			Path:       path,
			Extensions: extWithSubgraph(sgErr.Extensions, node.Subgraph),
		})
	}

	entities, _ := data["_entities"].([]any)
	for i, ref := range refs {
		if i >= len(entities) || entities[i] == nil {
			if !failed[i] {
				sink.addFieldError(ref.path, node.Subgraph,
					fmt.Sprintf("%v: %s", errors.ErrEntityRejected, node.ParentType))
			}
			continue
		}
		obj, ok := entities[i].(map[string]any)
		if !ok {
			sink.addFieldError(ref.path, node.Subgraph,
				fmt.Sprintf("%v: non-object entity result", errors.ErrEntityRejected))
			continue
		}
		mergeObject(ref.obj, obj)
	}
}

// recordNodeFailure scopes a whole-node failure to the node's branch.
func (e *Executor) recordNodeFailure(node *planner.FetchNode, err error, sink *errorSink) {
	e.logger.Error("fetch failed",
		"subgraph", node.Subgraph,
		"entity_fetch", node.IsEntityFetch(),
		"error", err)

	var msg string
	switch {
	case errors.Is(err, errors.ErrSubgraphDown):
		msg = fmt.Sprintf("subgraph %q is down", node.Subgraph)
	case errors.Is(err, context.DeadlineExceeded):
		msg = fmt.Sprintf("%v: subgraph %q", errors.ErrSubgraphTimeout, node.Subgraph)
	default:
		msg = fmt.Sprintf("%v: %s", errors.ErrSubgraphUnavailable, node.Subgraph)
	}

	// One error per field the node would have filled, so the client sees
	// exactly which paths were lost.
	prefix := anyPath(node.ParentPath)
	for _, sel := range node.Selection() {
		if f, ok := sel.(*ast.Field); ok {
			sink.addFieldError(append(slices.Clone(prefix), responseKey(f)), node.Subgraph, msg)
		}
	}
}

func extWithSubgraph(ext map[string]any, name string) map[string]any {
	out := make(map[string]any, len(ext)+1)
	for k, v := range ext {
		out[k] = v
	}
	out["subgraph"] = name
	return out
}

// translateEntityPath rewrites a subgraph error path rooted at
// _entities[i] to the representation's real response path.
func translateEntityPath(path []any, refs []entityRef) ([]any, int) {
	if len(path) >= 2 {
		if head, ok := path[0].(string); ok && head == "_entities" {
			if idx, ok := toIndex(path[1]); ok && idx >= 0 && idx < len(refs) {
				return append(slices.Clone(refs[idx].path), path[2:]...), idx
			}
		}
	}
	return path, -1
}

func toIndex(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}
