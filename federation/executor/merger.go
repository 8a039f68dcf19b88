package executor

import "fmt"

// MergeConflictError describes why a non-entity fetch's response data could
// not be folded into the in-progress response tree at its insertion path.
// Path is already in the []any shape GraphQLError.Path expects, so callers
// can attach it to a response error without re-walking the merge path.
type MergeConflictError struct {
	Path   []any
	Detail string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict at %v: %s", e.Path, e.Detail)
}

// Merge folds source into target at path, the response-tree counterpart to
// FetchDependencyGraph's InsertionPath: a root-level sibling fetch (no
// entity jump) lands its data at exactly the path its FetchGraphNode was
// planned against, recursing through objects and, when target is a list at
// that path, merging element-wise (the shape produced when a fetch was
// planned underneath a list field shared by the same subgraph as its
// parent, e.g. sibling fields both inside `products: [Product]`).
func Merge(target map[string]any, source any, path []string) error {
	if len(path) == 0 {
		sourceMap, ok := source.(map[string]any)
		if !ok {
			return &MergeConflictError{Path: pathToAny(path), Detail: "source must be a map when path is empty"}
		}
		for k, v := range sourceMap {
			target[k] = v
		}
		return nil
	}

	key := path[0]
	remaining := path[1:]

	value, exists := target[key]
	if !exists {
		if len(remaining) > 0 {
			target[key] = make(map[string]any)
			value = target[key]
		} else {
			target[key] = source
			return nil
		}
	}

	if list, ok := value.([]any); ok {
		sourceList, ok := source.([]any)
		if !ok {
			return &MergeConflictError{Path: pathToAny(path), Detail: fmt.Sprintf("source must be a list when target is a list, got %T", source)}
		}
		if len(list) != len(sourceList) {
			return &MergeConflictError{Path: pathToAny(path), Detail: fmt.Sprintf("source and target list lengths do not match: target=%d, source=%d", len(list), len(sourceList))}
		}
		for i := range list {
			elemPath := append(append([]string{}, path...), fmt.Sprint(i))
			targetElem, ok := list[i].(map[string]any)
			if !ok {
				return &MergeConflictError{Path: pathToAny(elemPath), Detail: "target list element is not a map"}
			}
			if len(remaining) == 0 {
				sourceElem, ok := sourceList[i].(map[string]any)
				if !ok {
					return &MergeConflictError{Path: pathToAny(elemPath), Detail: "source list element is not a map"}
				}
				for k, v := range sourceElem {
					targetElem[k] = v
				}
			} else if err := Merge(targetElem, sourceList[i], remaining); err != nil {
				return err
			}
		}
		return nil
	}

	if obj, ok := value.(map[string]any); ok {
		if len(remaining) == 0 {
			sourceMap, ok := source.(map[string]any)
			if !ok {
				return &MergeConflictError{Path: pathToAny(path), Detail: "source must be a map when merging into an object"}
			}
			for k, v := range sourceMap {
				obj[k] = v
			}
			return nil
		}
		return Merge(obj, source, remaining)
	}

	return &MergeConflictError{Path: pathToAny(path), Detail: fmt.Sprintf("unsupported existing value type %T at merge target", value)}
}
