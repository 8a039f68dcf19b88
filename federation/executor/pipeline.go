package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/federated-graph/gwcore/federation/graph"
	"github.com/federated-graph/gwcore/federation/planner"
	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

// GraphQLError represents one GraphQL error with its path into the response
// it concerns, as the client-facing response shape requires.
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// ExecutionService walks a PlanNode tree, issuing subgraph requests and
// merging their responses into one response tree. Grounded on ExecutorV2,
// adapted from a flat Steps+DependsOn array to direct PlanNode recursion
// (Sequence / Parallel / Flatten / Fetch / Condition), which the
// FetchDependencyGraph lowering already encodes as tree shape rather than a
// dependency graph to re-walk at execution time.
type ExecutionService struct {
	httpClient   *http.Client
	queryBuilder *QueryBuilder
	supergraph   *graph.Supergraph
	subgraph     *SubgraphService
}

// NewExecutionService builds an ExecutionService over sg using httpClient for
// outgoing subgraph calls.
func NewExecutionService(httpClient *http.Client, sg *graph.Supergraph) *ExecutionService {
	return &ExecutionService{
		httpClient:   httpClient,
		queryBuilder: NewQueryBuilder(sg),
		supergraph:   sg,
		subgraph:     NewSubgraphService(httpClient),
	}
}

// execState accumulates the in-progress response tree and errors across one
// Execute call, guarded by a mutex so Parallel branches can merge safely.
type execState struct {
	mu     sync.Mutex
	data   map[string]any
	errors []GraphQLError
}

func newExecState() *execState {
	return &execState{data: make(map[string]any)}
}

func (s *execState) addError(err GraphQLError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, err)
}

// Execute runs plan to completion and returns the merged response data and
// accumulated errors. Variable conditions (for Condition nodes) come from
// conditionVars.
func (e *ExecutionService) Execute(ctx context.Context, reqCtx *Context, plan *planner.PlanNode, variables map[string]any, conditionVars map[string]bool) (map[string]any, []GraphQLError) {
	state := newExecState()
	e.run(ctx, reqCtx, plan, variables, conditionVars, nil, state)

	state.mu.Lock()
	defer state.mu.Unlock()
	dataCopy := make(map[string]any, len(state.data))
	for k, v := range state.data {
		dataCopy[k] = v
	}
	errCopy := make([]GraphQLError, len(state.errors))
	copy(errCopy, state.errors)
	return dataCopy, errCopy
}

// run executes node, merging its output into state at responsePrefix.
func (e *ExecutionService) run(ctx context.Context, reqCtx *Context, node *planner.PlanNode, variables map[string]any, conditionVars map[string]bool, responsePrefix []string, state *execState) {
	if node == nil {
		return
	}

	switch node.Kind {
	case planner.NodeFetch:
		e.runFetch(ctx, reqCtx, node.Fetch, variables, responsePrefix, state)

	case planner.NodeSequence:
		for _, child := range node.Children {
			e.run(ctx, reqCtx, child, variables, conditionVars, responsePrefix, state)
		}

	case planner.NodeParallel:
		eg, gctx := errgroup.WithContext(ctx)
		for _, child := range node.Children {
			child := child
			eg.Go(func() error {
				e.run(gctx, reqCtx, child, variables, conditionVars, responsePrefix, state)
				return nil
			})
		}
		_ = eg.Wait()

	case planner.NodeFlatten:
		childPrefix := append(append([]string{}, responsePrefix...), node.FlattenPath...)
		e.run(ctx, reqCtx, node.FlattenChild, variables, conditionVars, childPrefix, state)

	case planner.NodeCondition:
		branch := node.ConditionIf
		if !conditionVars[node.ConditionVariable] {
			branch = node.ConditionElse
		}
		e.run(ctx, reqCtx, branch, variables, conditionVars, responsePrefix, state)

	case planner.NodeDefer:
		// Streaming multipart delivery is a transport-layer concern not built
		// in this pass; the primary and every deferred block are run eagerly
		// and merged into one response (see DESIGN.md).
		e.run(ctx, reqCtx, node.DeferPrimary, variables, conditionVars, responsePrefix, state)
		for _, block := range node.DeferBlocks {
			blockPrefix := append(append([]string{}, responsePrefix...), block.Path...)
			e.run(ctx, reqCtx, block.Node, variables, conditionVars, blockPrefix, state)
		}

	case planner.NodeSubscription:
		// A single emission is executed synchronously; long-lived streaming
		// is a transport-layer concern (see DESIGN.md).
		e.runFetch(ctx, reqCtx, node.SubscriptionPrimary, variables, responsePrefix, state)
		if node.SubscriptionRest != nil {
			e.run(ctx, reqCtx, node.SubscriptionRest, variables, conditionVars, responsePrefix, state)
		}
	}
}

func (e *ExecutionService) runFetch(ctx context.Context, reqCtx *Context, fetch *planner.FetchNode, variables map[string]any, responsePrefix []string, state *execState) {
	if fetch == nil {
		return
	}

	var representations []map[string]any
	if fetch.IsEntityFetch {
		representations = e.extractRepresentations(state, fetch, responsePrefix)
		if len(representations) == 0 {
			return
		}
	}

	query, queryVars, err := e.queryBuilder.Build(fetch, representations, variables)
	if err != nil {
		state.addError(GraphQLError{Message: fmt.Sprintf("failed to build query for %s: %v", fetch.SubGraph, err), Path: pathToAny(responsePrefix)})
		return
	}

	sg, ok := e.supergraph.GetSubGraphByName(fetch.SubGraph)
	if !ok {
		state.addError(GraphQLError{Message: fmt.Sprintf("unknown subgraph %q", fetch.SubGraph), Path: pathToAny(responsePrefix)})
		return
	}

	result, err := e.subgraph.Send(ctx, sg.Host, query, queryVars)
	if err != nil {
		state.addError(GraphQLError{
			Message:    err.Error(),
			Path:       pathToAny(responsePrefix),
			Extensions: map[string]any{"serviceName": fetch.SubGraph, "code": "SUBREQUEST_HTTP_ERROR"},
		})
		return
	}

	if errs, ok := result["errors"]; ok && errs != nil {
		for _, gqlErr := range subgraphErrors(errs, responsePrefix, fetch.SubGraph) {
			state.addError(gqlErr)
		}
	}

	data, _ := result["data"].(map[string]any)
	if data == nil {
		return
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if fetch.IsEntityFetch {
		entities, _ := data["_entities"].([]any)
		mergeEntitiesAtPath(state.data, entities, responsePrefix)
	} else {
		if err := Merge(state.data, data, responsePrefix); err != nil {
			var mergeErr *MergeConflictError
			path := pathToAny(responsePrefix)
			detail := err.Error()
			if errors.As(err, &mergeErr) {
				path = mergeErr.Path
				detail = mergeErr.Detail
			}
			state.errors = append(state.errors, GraphQLError{
				Message: fmt.Sprintf("failed to merge response from %s: %s", fetch.SubGraph, detail),
				Path:    path,
			})
		}
	}
}

// extractRepresentations walks to responsePrefix inside state.data and builds
// one `_Any` representation per entity found there (single object, or one
// per list element), using the @key fields of the entity's owning subgraph.
func (e *ExecutionService) extractRepresentations(state *execState, fetch *planner.FetchNode, responsePrefix []string) []map[string]any {
	state.mu.Lock()
	defer state.mu.Unlock()

	var current any = state.data
	for _, segment := range responsePrefix {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		next, exists := m[segment]
		if !exists {
			return nil
		}
		current = next
	}

	owner := e.supergraph.GetEntityOwnerSubGraph(fetch.ParentType)
	if owner == nil {
		return nil
	}
	entity, ok := owner.GetEntity(fetch.ParentType)
	if !ok || len(entity.Keys) == 0 {
		return nil
	}
	keyFields := strings.Fields(entity.Keys[0].FieldSet)

	var out []map[string]any
	switch v := current.(type) {
	case map[string]any:
		if rep := buildRepresentation(v, fetch.ParentType, keyFields); rep != nil {
			out = append(out, rep)
		}
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				if rep := buildRepresentation(m, fetch.ParentType, keyFields); rep != nil {
					out = append(out, rep)
				}
			}
		}
	}
	return out
}

func buildRepresentation(entity map[string]any, typeName string, keyFields []string) map[string]any {
	rep := map[string]any{"__typename": typeName}
	for _, name := range keyFields {
		v, ok := entity[name]
		if !ok {
			return nil
		}
		rep[name] = v
	}
	return rep
}

// mergeEntitiesAtPath merges _entities results (in order) back into the
// object or array found at path inside data.
func mergeEntitiesAtPath(data map[string]any, entities []any, path []string) {
	if len(entities) == 0 {
		return
	}

	var current any = data
	for _, segment := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return
		}
		current = m[segment]
	}

	switch v := current.(type) {
	case map[string]any:
		if first, ok := entities[0].(map[string]any); ok {
			for k, val := range first {
				v[k] = val
			}
		}
	case []any:
		for i, elem := range v {
			if i >= len(entities) {
				break
			}
			elemMap, ok := elem.(map[string]any)
			entityMap, ok2 := entities[i].(map[string]any)
			if !ok || !ok2 {
				continue
			}
			for k, val := range entityMap {
				elemMap[k] = val
			}
		}
	}
}

func subgraphErrors(raw any, basePath []string, subgraphName string) []GraphQLError {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []GraphQLError
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		message, _ := m["message"].(string)
		if message == "" {
			message = "unknown error from subgraph"
		}
		path := pathToAny(basePath)
		if errPath, ok := m["path"].([]any); ok {
			path = append(path, errPath...)
		}
		ext := map[string]any{"serviceName": subgraphName}
		if rawExt, ok := m["extensions"].(map[string]any); ok {
			for k, v := range rawExt {
				ext[k] = v
			}
		}
		out = append(out, GraphQLError{Message: message, Path: path, Extensions: ext})
	}
	return out
}

func pathToAny(path []string) []any {
	out := make([]any, len(path))
	for i, p := range path {
		out[i] = p
	}
	return out
}

// SubgraphService sends one outgoing GraphQL request to a subgraph over
// HTTP. Every call is sent as its own request: identical concurrent queries
// are not deduplicated, and calls are not grouped through the
// BatchCoordinator in federation/batch.
type SubgraphService struct {
	httpClient *http.Client
}

// NewSubgraphService builds a SubgraphService using httpClient.
func NewSubgraphService(httpClient *http.Client) *SubgraphService {
	return &SubgraphService{httpClient: httpClient}
}

// Send posts one GraphQL operation to host and decodes its JSON response.
func (s *SubgraphService) Send(ctx context.Context, host, query string, variables map[string]any) (map[string]any, error) {
	body := map[string]any{"query": query}
	if len(variables) > 0 {
		body["variables"] = variables
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result map[string]any
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result, nil
}
