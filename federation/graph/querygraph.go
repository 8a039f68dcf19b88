package graph

import "fmt"

// RootKind distinguishes the three GraphQL root operation kinds.
type RootKind int

const (
	RootQuery RootKind = iota
	RootMutation
	RootSubscription
)

func (k RootKind) String() string {
	switch k {
	case RootMutation:
		return "mutation"
	case RootSubscription:
		return "subscription"
	default:
		return "query"
	}
}

// TransitionKind is one of the six QueryGraph edge transitions.
type TransitionKind int

const (
	TransitionFieldCollection TransitionKind = iota
	TransitionDowncast
	TransitionKeyResolution
	TransitionRootTypeResolution
	TransitionSubgraphEntering
	TransitionInterfaceObjectFakeDowncast
)

// NodeIndex and EdgeIndex are stable arena slots: the QueryGraph never
// removes a node or edge once added, only disables edges via Edge.Disabled,
// invariant.
type NodeIndex int
type EdgeIndex int

// Node is a QueryGraph vertex: either a (type, subgraph) pair, or a
// federated-root placeholder node that has no associated subgraph.
type Node struct {
	TypeName                    string
	Source                      string // subgraph name, "" for a federated root
	IsFederatedRoot             bool
	RootKind                    RootKind
	ProvideID                   int // >0 disambiguates @provides node copies
	HasReachableCrossSubgraphEdges bool
}

// Transition carries the edge-kind-specific data.
type Transition struct {
	Kind          TransitionKind
	Source        string // subgraph owning the traversed field/downcast
	FieldName     string // FieldCollection
	FromType      string // Downcast / InterfaceObjectFakeDowncast
	ToType        string // Downcast / InterfaceObjectFakeDowncast
	RootKind      RootKind
	IsPartOfProvides bool
}

// Edge is a directed QueryGraph edge.
type Edge struct {
	From             NodeIndex
	To               NodeIndex
	Transition       Transition
	Conditions       string // parsed key/requires selection set, printed form
	OverrideLabel    string // non-empty when gated by @override(label:)
	OverrideWantsOn  bool
	RequiredContexts []string
	Disabled         bool
}

// QueryGraph is the directed multigraph over which the planner searches for
// fetch plans.
type QueryGraph struct {
	Supergraph *Supergraph
	Nodes      []Node
	Edges      []Edge
	out        map[NodeIndex][]EdgeIndex

	// nodeIndex maps (source, typeName, provideID) -> NodeIndex, used during
	// construction to avoid duplicate nodes.
	nodeIndex map[string]NodeIndex

	// NonTrivialFollowups[e] is the precomputed set of out-edges worth
	// considering after e.
	NonTrivialFollowups map[EdgeIndex][]EdgeIndex

	// ArgumentsToContextIDs records a stable id per @fromContext argument
	// site, keyed by "Type.field.arg", for fetch lowering to correlate with
	// context selection sets (last paragraph).
	ArgumentsToContextIDs map[string]string

	// OverrideLabels is the set of @override label names encountered.
	OverrideLabels map[string]bool
}

func newQueryGraph(sg *Supergraph) *QueryGraph {
	return &QueryGraph{
		Supergraph:            sg,
		out:                   make(map[NodeIndex][]EdgeIndex),
		nodeIndex:             make(map[string]NodeIndex),
		NonTrivialFollowups:   make(map[EdgeIndex][]EdgeIndex),
		ArgumentsToContextIDs: make(map[string]string),
		OverrideLabels:        make(map[string]bool),
	}
}

func (g *QueryGraph) addNode(n Node) NodeIndex {
	key := nodeKey(n.Source, n.TypeName, n.ProvideID)
	if idx, ok := g.nodeIndex[key]; ok {
		return idx
	}
	idx := NodeIndex(len(g.Nodes))
	g.Nodes = append(g.Nodes, n)
	g.nodeIndex[key] = idx
	return idx
}

func nodeKey(source, typeName string, provideID int) string {
	return fmt.Sprintf("%s\x00%s\x00%d", source, typeName, provideID)
}

func (g *QueryGraph) addEdge(e Edge) EdgeIndex {
	idx := EdgeIndex(len(g.Edges))
	g.Edges = append(g.Edges, e)
	g.out[e.From] = append(g.out[e.From], idx)
	return idx
}

// OutEdges returns the out-edges of a node in insertion order — used as a
// tie-break by the planner.
func (g *QueryGraph) OutEdges(n NodeIndex) []EdgeIndex {
	return g.out[n]
}

// FindKeyResolutionEdge returns the KeyResolution edge built during
// composition from (fromSubgraph, fromType) to (toSubgraph, toType), if one
// exists — the planner's hook for checking that a boundary-field jump it is
// about to commit to is backed by an actual key-resolution edge in this
// graph.
func (g *QueryGraph) FindKeyResolutionEdge(fromSubgraph, fromType, toSubgraph, toType string) (EdgeIndex, bool) {
	fromIdx, ok := g.nodeIndex[nodeKey(fromSubgraph, fromType, 0)]
	if !ok {
		return 0, false
	}
	for _, eIdx := range g.OutEdges(fromIdx) {
		e := g.Edges[eIdx]
		if e.Transition.Kind != TransitionKeyResolution {
			continue
		}
		dst := g.Nodes[e.To]
		if dst.Source == toSubgraph && dst.TypeName == toType {
			return eIdx, true
		}
	}
	return 0, false
}

// Followups returns the productive out-edges after having just traversed e,
// falling back to all out-edges of tail(e) if no pruning entry exists.
func (g *QueryGraph) Followups(e EdgeIndex) []EdgeIndex {
	if f, ok := g.NonTrivialFollowups[e]; ok {
		return f
	}
	return g.OutEdges(g.Edges[e].To)
}

// BuildFederated constructs the QueryGraph for a supergraph in three phases:
// per-subgraph type nodes and field edges, cross-subgraph federation edges,
// then @provides expansion; the edge-pruning pass runs last.
func BuildFederated(sg *Supergraph) *QueryGraph {
	g := newQueryGraph(sg)

	// Phase 1: per-subgraph graphs.
	for _, s := range sg.SubGraphs {
		g.buildSubgraphNodes(s)
	}
	for _, s := range sg.SubGraphs {
		g.buildSubgraphEdges(s)
	}

	// Phase 2: federation edges.
	g.buildFederationEdges(sg)

	// Phase 3: @provides expansion.
	g.expandProvides(sg)

	g.computeFollowups()
	return g
}

func (g *QueryGraph) buildSubgraphNodes(s *SubGraph) {
	for typeName := range s.Types {
		g.addNode(Node{TypeName: typeName, Source: s.Name})
	}
}

func (g *QueryGraph) buildSubgraphEdges(s *SubGraph) {
	for typeName, t := range s.Types {
		fromIdx, ok := g.nodeIndex[nodeKey(s.Name, typeName, 0)]
		if !ok {
			continue
		}
		for fieldName, f := range t.Fields {
			if f.External {
				continue
			}
			innerType := namedTypeName(f.Type)
			if innerType == "" {
				continue
			}
			toIdx := g.addNode(Node{TypeName: innerType, Source: s.Name})
			g.addEdge(Edge{
				From: fromIdx, To: toIdx,
				Transition: Transition{Kind: TransitionFieldCollection, Source: s.Name, FieldName: fieldName},
			})
			for argName := range fromContextArgs(f) {
				g.ArgumentsToContextIDs[typeName+"."+fieldName+"."+argName] = fmt.Sprintf("ctx_%s_%s_%s", s.Name, typeName, fieldName)
			}
		}

		if t.Kind == KindInterface || t.Kind == KindUnion {
			for _, member := range g.runtimeTypesOf(typeName) {
				if memberIdx, ok := g.nodeIndex[nodeKey(s.Name, member, 0)]; ok {
					g.addEdge(Edge{From: fromIdx, To: memberIdx, Transition: Transition{
						Kind: TransitionDowncast, Source: s.Name, FromType: typeName, ToType: member,
					}})
				}
			}
		}

		if t.InterfaceObject {
			for _, implName := range g.runtimeTypesOf(typeName) {
				g.addEdge(Edge{From: fromIdx, To: fromIdx, Transition: Transition{
					Kind: TransitionInterfaceObjectFakeDowncast, Source: s.Name, FromType: typeName, ToType: implName,
				}})
			}
		}
	}
}

func fromContextArgs(f *FieldMeta) map[string]bool {
	out := make(map[string]bool)
	for _, arg := range f.Arguments {
		if hasDirective(arg.Directives, "fromContext") {
			out[arg.Name.String()] = true
		}
	}
	return out
}

// runtimeTypesOf returns the object type names implementing interfaceName or
// belonging to unionName, scanning the composed schema.
func (g *QueryGraph) runtimeTypesOf(abstractName string) []string {
	var out []string
	for name, jt := range g.Supergraph.JoinTypes {
		_ = jt
		for _, s := range g.Supergraph.SubGraphs {
			if t, ok := s.Types[name]; ok && t.Kind == KindObject {
				for _, iface := range t.Interfaces {
					if iface == abstractName {
						out = append(out, name)
					}
				}
			}
			if t, ok := s.Types[abstractName]; ok && t.Kind == KindUnion {
				for _, m := range t.UnionMembers {
					out = append(out, m)
				}
			}
		}
	}
	return dedupeStrings(out)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func (g *QueryGraph) buildFederationEdges(sg *Supergraph) {
	for _, kind := range []RootKind{RootQuery, RootMutation, RootSubscription} {
		rootIdx := g.addNode(Node{TypeName: kind.String(), IsFederatedRoot: true, RootKind: kind})
		rootTypeName := rootTypeNameFor(kind)
		for _, s := range sg.SubGraphs {
			if _, ok := s.Types[rootTypeName]; !ok && kind != RootQuery {
				continue
			}
			subRootIdx, ok := g.nodeIndex[nodeKey(s.Name, rootTypeName, 0)]
			if !ok {
				subRootIdx = g.addNode(Node{TypeName: rootTypeName, Source: s.Name})
			}
			g.addEdge(Edge{From: rootIdx, To: subRootIdx, Transition: Transition{
				Kind: TransitionSubgraphEntering, RootKind: kind,
			}})
		}

		// RootTypeResolution: cross-subgraph root pairs of the same kind.
		for _, a := range sg.SubGraphs {
			aIdx, ok := g.nodeIndex[nodeKey(a.Name, rootTypeName, 0)]
			if !ok {
				continue
			}
			for _, b := range sg.SubGraphs {
				if a.Name == b.Name {
					continue
				}
				bIdx, ok := g.nodeIndex[nodeKey(b.Name, rootTypeName, 0)]
				if !ok {
					continue
				}
				g.addEdge(Edge{From: aIdx, To: bIdx, Transition: Transition{Kind: TransitionRootTypeResolution, RootKind: kind}})
			}
		}
	}

	for typeName := range sg.JoinTypes {
		if !sg.IsEntityType(typeName) {
			continue
		}
		for _, a := range sg.SubGraphs {
			aEntity, ok := a.GetEntity(typeName)
			if !ok || !aEntity.IsResolvable() {
				continue
			}
			aIdx, ok := g.nodeIndex[nodeKey(a.Name, typeName, 0)]
			if !ok {
				continue
			}
			for _, b := range sg.SubGraphs {
				if a.Name == b.Name {
					continue
				}
				if _, ok := b.Types[typeName]; !ok {
					continue
				}
				bIdx, ok := g.nodeIndex[nodeKey(b.Name, typeName, 0)]
				if !ok {
					continue
				}
				for _, key := range aEntity.Keys {
					if !key.Resolvable {
						continue
					}
					if keyReferencesExternal(b, typeName, key.FieldSet) {
						continue
					}
					g.addEdge(Edge{From: aIdx, To: bIdx, Transition: Transition{Kind: TransitionKeyResolution, Source: a.Name},
						Conditions: key.FieldSet})
				}
			}
		}
	}
}

func rootTypeNameFor(kind RootKind) string {
	switch kind {
	case RootMutation:
		return "Mutation"
	case RootSubscription:
		return "Subscription"
	default:
		return "Query"
	}
}

// keyReferencesExternal would reject a KeyResolution edge whose condition
// selection set names a field missing entirely from b; @external key stubs
// are the normal, expected shape for a resolvable key's destination and are
// never themselves a reason to skip the edge.
func keyReferencesExternal(b *SubGraph, typeName, fieldSet string) bool {
	t, ok := b.Types[typeName]
	if !ok {
		return false
	}
	for _, fname := range splitFieldSet(fieldSet) {
		if _, ok := t.Fields[fname]; !ok {
			return true
		}
	}
	return false
}

func splitFieldSet(fieldSet string) []string {
	var out []string
	cur := ""
	for _, r := range fieldSet {
		if r == ' ' || r == '\t' || r == '\n' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// expandProvides duplicates destination nodes for @provides fields, per
// phase 3. The copy carries the same out-edges minus
// KeyResolution (keys must be re-obtained via the original node).
func (g *QueryGraph) expandProvides(sg *Supergraph) {
	provideSeq := 1
	for _, s := range sg.SubGraphs {
		for typeName, t := range s.Types {
			for fieldName, f := range t.Fields {
				if len(f.Provides) == 0 {
					continue
				}
				innerType := namedTypeName(f.Type)
				origIdx, ok := g.nodeIndex[nodeKey(s.Name, innerType, 0)]
				if !ok {
					continue
				}
				provideSeq++
				copyIdx := g.addNode(Node{TypeName: innerType, Source: s.Name, ProvideID: provideSeq})
				for _, eIdx := range g.OutEdges(origIdx) {
					e := g.Edges[eIdx]
					if e.Transition.Kind == TransitionKeyResolution {
						continue
					}
					covered := fieldCoveredByProvides(e, f.Provides)
					g.addEdge(Edge{From: copyIdx, To: e.To, Transition: sameTransitionMarkedProvides(e.Transition, covered)})
				}

				fromIdx, ok := g.nodeIndex[nodeKey(s.Name, typeName, 0)]
				if !ok {
					continue
				}
				for i, eIdx := range g.out[fromIdx] {
					e := g.Edges[eIdx]
					if e.Transition.Kind == TransitionFieldCollection && e.Transition.FieldName == fieldName {
						g.Edges[eIdx].To = copyIdx
						_ = i
					}
				}
			}
		}
	}
}

func fieldCoveredByProvides(e Edge, provides []string) bool {
	for _, p := range provides {
		if p == e.Transition.FieldName {
			return true
		}
	}
	return false
}

func sameTransitionMarkedProvides(t Transition, covered bool) Transition {
	t.IsPartOfProvides = covered
	return t
}

// computeFollowups applies the three edge-pruning rules.
func (g *QueryGraph) computeFollowups() {
	directKeyReachable := make(map[NodeIndex]map[string]bool)
	for idx, e := range g.Edges {
		if e.Transition.Kind != TransitionKeyResolution {
			continue
		}
		dst := g.Nodes[e.To]
		if directKeyReachable[e.From] == nil {
			directKeyReachable[e.From] = make(map[string]bool)
		}
		directKeyReachable[e.From][dst.Source] = true
		_ = idx
	}

	for idx := range g.Edges {
		e := g.Edges[idx]
		var followups []EdgeIndex
		for _, outIdx := range g.OutEdges(e.To) {
			out := g.Edges[outIdx]

			if e.Transition.Kind == TransitionKeyResolution && out.Transition.Kind == TransitionKeyResolution {
				if directKeyReachable[e.From][g.Nodes[out.To].Source] {
					continue
				}
			}

			if (out.Transition.Kind == TransitionKeyResolution || out.Transition.Kind == TransitionRootTypeResolution) && out.From == out.To {
				continue
			}

			if out.Transition.Kind == TransitionFieldCollection {
				destType, ok := g.externalFieldAt(out)
				if ok && destType && !out.Transition.IsPartOfProvides {
					continue
				}
			}

			followups = append(followups, outIdx)
		}
		g.NonTrivialFollowups[EdgeIndex(idx)] = followups
	}
}

func (g *QueryGraph) externalFieldAt(e Edge) (bool, bool) {
	src := g.Nodes[e.From]
	if src.Source == "" {
		return false, false
	}
	s, ok := g.Supergraph.GetSubGraphByName(src.Source)
	if !ok {
		return false, false
	}
	t, ok := s.Types[src.TypeName]
	if !ok {
		return false, false
	}
	f, ok := t.Fields[e.Transition.FieldName]
	if !ok {
		return false, false
	}
	return f.External, true
}
