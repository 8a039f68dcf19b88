package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/federated-graph/gwcore/federation/demandcontrol"
	"github.com/federated-graph/gwcore/federation/executor"
	"github.com/federated-graph/gwcore/federation/graph"
	"github.com/federated-graph/gwcore/federation/planner"
	"github.com/federated-graph/gwcore/telemetry"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// SupergraphHandler executes one parsed GraphQL request and returns its
// shaped response body. NewGateway wraps executeOne with a fixed processing
// stack — telemetry and demand-control are the two concerns wired here.
type SupergraphHandler func(ctx context.Context, req graphQLRequest) map[string]any

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// Gateway is the RouterService: it accepts raw HTTP, splits a batch envelope
// into per-item virtual requests, and delegates each to the SupergraphService
// pipeline.
type Gateway struct {
	serviceName string
	tracer      trace.Tracer

	supergraph    *graph.Supergraph
	plannerTravel *planner.PlannerTraversal
	planCache     *planner.Cache
	execution     *executor.ExecutionService
	estimator     *demandcontrol.Estimator

	plannerOptions planner.Options
	maxBatchSize   int

	handler SupergraphHandler
}

var _ http.Handler = (*Gateway)(nil)

// loadSubgraphSDL returns a subgraph's schema: concatenated SchemaFiles when
// configured, otherwise fetched over the wire via `{ _service { sdl } }`
// against s.Host, retried per s.IntrospectRetry.
func loadSubgraphSDL(ctx context.Context, s SubgraphConfig, httpClient *http.Client) ([]byte, error) {
	if len(s.SchemaFiles) > 0 {
		var sdl []byte
		for _, f := range s.SchemaFiles {
			src, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read schema file %q for subgraph %q: %w", f, s.Name, err)
			}
			sdl = append(sdl, src...)
		}
		return sdl, nil
	}

	sdl, err := fetchSDL(ctx, s.Host, httpClient, s.IntrospectRetry)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch SDL for subgraph %q: %w", s.Name, err)
	}
	return []byte(sdl), nil
}

// NewGateway loads each configured subgraph's SDL, composes the
// supergraph, and assembles the fixed plugin stack (telemetry,
// demand-control) around the SupergraphService pipeline.
func NewGateway(settings GatewayOption) (*Gateway, error) {
	httpClient := &http.Client{Timeout: 3 * time.Second}
	if settings.Opentelemetry.Tracing.Enable {
		httpClient.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}

	var subgraphs []*graph.SubGraph
	for _, s := range settings.Subgraphs {
		sdl, err := loadSubgraphSDL(context.Background(), s, httpClient)
		if err != nil {
			return nil, err
		}

		sub, err := graph.NewSubGraph(s.Name, sdl, s.Host)
		if err != nil {
			return nil, fmt.Errorf("failed to parse subgraph %q: %w", s.Name, err)
		}
		subgraphs = append(subgraphs, sub)
	}

	sg, _, err := (graph.Composer{}).Merge(subgraphs)
	if err != nil {
		return nil, fmt.Errorf("failed to compose supergraph: %w", err)
	}

	demandCfg := demandcontrol.Config{
		Mode:     demandcontrol.ModeMeasure,
		Max:      settings.DemandControl.Max,
		ListSize: settings.DemandControl.ListSize,
	}
	if settings.DemandControl.Enforce {
		demandCfg.Mode = demandcontrol.ModeEnforce
	}

	maxBatchSize := settings.Batch.MaxBatchSize
	if maxBatchSize <= 0 {
		maxBatchSize = 10
	}

	planCacheSize := settings.Planner.PlanCacheSize
	if planCacheSize <= 0 {
		planCacheSize = 1000
	}

	gw := &Gateway{
		serviceName:   settings.ServiceName,
		tracer:        telemetry.Tracer(),
		supergraph:    sg,
		plannerTravel: planner.New(sg),
		planCache:     planner.NewCache(planCacheSize),
		execution:     executor.NewExecutionService(httpClient, sg),
		estimator:     demandcontrol.NewEstimator(sg, demandCfg),
		plannerOptions: planner.Options{
			MaxEvaluatedPlans: settings.Planner.MaxEvaluatedPlans,
			PathsLimit:        settings.Planner.PathsLimit,
		},
		maxBatchSize: maxBatchSize,
	}
	gw.handler = gw.withTelemetry(gw.executeOne)
	return gw, nil
}

// withTelemetry wraps next with the telemetry plugin: a span covering
// parsing, demand-control, planning, and execution for one operation.
func (g *Gateway) withTelemetry(next SupergraphHandler) SupergraphHandler {
	return func(ctx context.Context, req graphQLRequest) map[string]any {
		ctx, span := telemetry.StartPlanSpan(ctx, g.tracer, operationNameOf(req.Query))
		defer span.End()
		return next(ctx, req)
	}
}

func operationNameOf(query string) string {
	if len(query) > 64 {
		return query[:64]
	}
	return query
}

// ServeHTTP implements the RouterService layer: a plain object body is a
// single virtual request; a JSON array body is a client batch, split into N
// virtual requests run concurrently and recombined in input order.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	raw, err := readAll(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		g.serveBatch(w, r, raw)
		return
	}
	g.serveSingle(w, r, raw)
}

func (g *Gateway) serveSingle(w http.ResponseWriter, r *http.Request, raw []byte) {
	var req graphQLRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{"malformed request body"}})
		return
	}

	resp := g.handler(r.Context(), req)
	writeJSON(w, http.StatusOK, resp)
}

// serveBatch handles the client batch envelope: enforces the configured
// batch size limit (422 on overflow) and rejects any item whose operation
// carries `@defer` or is a subscription.
func (g *Gateway) serveBatch(w http.ResponseWriter, r *http.Request, raw []byte) {
	var reqs []graphQLRequest
	if err := json.Unmarshal(raw, &reqs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{"malformed batch body"}})
		return
	}

	if len(reqs) > g.maxBatchSize {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"errors": []string{fmt.Sprintf("batch of %d items exceeds the configured maximum of %d", len(reqs), g.maxBatchSize)},
		})
		return
	}

	responses := make([]map[string]any, len(reqs))
	group, ctx := errgroup.WithContext(r.Context())
	for i, req := range reqs {
		i, req := i, req
		if reason, disallowed := disallowedInBatch(req.Query); disallowed {
			responses[i] = map[string]any{"errors": []map[string]any{
				{"message": reason, "extensions": map[string]string{"code": "BATCHING_DEFER_UNSUPPORTED"}},
			}}
			continue
		}
		group.Go(func() error {
			responses[i] = g.handler(ctx, req)
			return nil
		})
	}
	_ = group.Wait()

	writeJSON(w, http.StatusOK, responses)
}

// disallowedInBatch reports whether query carries `@defer` or is a
// subscription operation, both refused inside a batch.
func disallowedInBatch(query string) (string, bool) {
	l := lexer.New(query)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		return "", false
	}
	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if !ok {
			continue
		}
		if op.Operation == ast.Subscription {
			return "subscriptions are not permitted inside a batch", true
		}
		if selectionSetHasDefer(op.SelectionSet) {
			return "@defer is not permitted inside a batch", true
		}
	}
	return "", false
}

func selectionSetHasDefer(selections []ast.Selection) bool {
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			for _, d := range s.Directives {
				if d.Name == "defer" {
					return true
				}
			}
			if selectionSetHasDefer(s.SelectionSet) {
				return true
			}
		case *ast.InlineFragment:
			for _, d := range s.Directives {
				if d.Name == "defer" {
					return true
				}
			}
			if selectionSetHasDefer(s.SelectionSet) {
				return true
			}
		case *ast.FragmentSpread:
			for _, d := range s.Directives {
				if d.Name == "defer" {
					return true
				}
			}
		}
	}
	return false
}

// executeOne is the SupergraphService: parse the operation, consult
// DemandControl, plan (consulting the plan cache), execute, and shape the
// response. The operation is not validated against the supergraph schema.
func (g *Gateway) executeOne(ctx context.Context, req graphQLRequest) map[string]any {
	l := lexer.New(req.Query)
	p := parser.New(l)
	doc := p.ParseDocument()
	if errs := p.Errors(); len(errs) > 0 {
		return map[string]any{"errors": errs}
	}

	op := operationOf(doc)
	if op == nil {
		return map[string]any{"errors": []string{"no operation found in request"}}
	}
	rootType, isMutation := rootTypeNameOf(op)

	estimated, err := g.estimator.Estimate(op.SelectionSet, rootType, isMutation)
	if err != nil {
		return map[string]any{"errors": []map[string]any{
			{"message": err.Error(), "extensions": map[string]string{"code": "COST_ESTIMATED_TOO_EXPENSIVE"}},
		}}
	}

	reqCtx := executor.NewContext("", "")
	reqCtx.SetEstimatedCost(estimated, "StaticEstimated")

	cacheKey := planner.CacheKey{SchemaID: g.supergraph.SDL(), OperationID: req.Query, AuthHash: ""}
	result, err := g.planCache.GetOrPlan(ctx, cacheKey, func() (*planner.Result, error) {
		return g.plannerTravel.PlanFetchGraph(doc, req.Variables, g.plannerOptions)
	})
	if err != nil {
		return map[string]any{"errors": []map[string]any{
			{"message": err.Error(), "extensions": map[string]string{"code": "PLANNING_FAILED"}},
		}}
	}

	plan, err := result.Graph.Lower()
	if err != nil {
		return map[string]any{"errors": []map[string]any{
			{"message": err.Error(), "extensions": map[string]string{"code": "PLANNING_FAILED"}},
		}}
	}

	data, execErrs := g.execution.Execute(ctx, reqCtx, plan, req.Variables, nil)

	shaper := executor.NewShaper(doc, req.Variables)
	shaped := shaper.Shape(data, op.SelectionSet, rootType)

	out := map[string]any{}
	if shaped.RootIsNull {
		out["data"] = nil
	} else {
		out["data"] = shaped.Data
	}

	var errs []any
	for _, e := range execErrs {
		errs = append(errs, e)
	}
	for _, e := range shaped.Errors {
		errs = append(errs, e)
	}
	if len(errs) > 0 {
		out["errors"] = errs
	}
	if len(shaped.ValueCompletion) > 0 {
		out["extensions"] = map[string]any{"valueCompletion": shaped.ValueCompletion}
	}
	return out
}

func operationOf(doc *ast.Document) *ast.OperationDefinition {
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			return op
		}
	}
	return nil
}

func rootTypeNameOf(op *ast.OperationDefinition) (string, bool) {
	switch op.Operation {
	case ast.Mutation:
		return "Mutation", true
	case ast.Subscription:
		return "Subscription", false
	default:
		return "Query", false
	}
}

// Start runs the gateway's HTTP server on port.
func (g *Gateway) Start(port int) error {
	return http.ListenAndServe(fmt.Sprintf(":%d", port), g)
}

// ComposeSDL reads and composes settings' subgraphs without building a full
// Gateway, and returns the resulting supergraph SDL — used by the `compose`
// CLI subcommand.
func ComposeSDL(settings GatewayOption) (string, error) {
	httpClient := &http.Client{Timeout: 3 * time.Second}

	var subgraphs []*graph.SubGraph
	for _, s := range settings.Subgraphs {
		sdl, err := loadSubgraphSDL(context.Background(), s, httpClient)
		if err != nil {
			return "", err
		}
		sub, err := graph.NewSubGraph(s.Name, sdl, s.Host)
		if err != nil {
			return "", fmt.Errorf("failed to parse subgraph %q: %w", s.Name, err)
		}
		subgraphs = append(subgraphs, sub)
	}

	sg, _, err := (graph.Composer{}).Merge(subgraphs)
	if err != nil {
		return "", fmt.Errorf("failed to compose supergraph: %w", err)
	}
	return sg.SDL(), nil
}

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
