package statesync

import (
	"fmt"
	"reflect"
)

// Diff performs a recursive structural comparison of old and new, producing
// an ordered list of StateChange. For maps it emits "added" for keys only in
// new, "removed" for keys only in old, and recurses into matched map-valued
// keys; otherwise it emits "modified" for scalar/sequence changes. Sequences
// are compared positionally by index, not by an LCS alignment: an element
// change inside a sequence yields a single "modified" change at that index's
// path.
func Diff(old, new map[string]any) []StateChange {
	var changes []StateChange
	diffValues("", any(old), any(new), &changes)
	return changes
}

func diffValues(path string, oldVal, newVal any, changes *[]StateChange) {
	oldMap, oldIsMap := oldVal.(map[string]any)
	newMap, newIsMap := newVal.(map[string]any)
	if oldIsMap && newIsMap {
		diffMaps(path, oldMap, newMap, changes)
		return
	}

	oldSlice, oldIsSlice := oldVal.([]any)
	newSlice, newIsSlice := newVal.([]any)
	if oldIsSlice && newIsSlice {
		diffSlices(path, oldSlice, newSlice, changes)
		return
	}

	if !reflect.DeepEqual(oldVal, newVal) {
		*changes = append(*changes, StateChange{
			Path:       path,
			OldValue:   oldVal,
			NewValue:   newVal,
			ChangeType: ChangeModified,
		})
	}
}

func diffMaps(path string, old, new map[string]any, changes *[]StateChange) {
	for key, newVal := range new {
		childPath := joinPath(path, key)
		oldVal, existed := old[key]
		if !existed {
			*changes = append(*changes, StateChange{
				Path:       childPath,
				NewValue:   newVal,
				ChangeType: ChangeAdded,
			})
			continue
		}
		diffValues(childPath, oldVal, newVal, changes)
	}
	for key, oldVal := range old {
		if _, stillPresent := new[key]; stillPresent {
			continue
		}
		*changes = append(*changes, StateChange{
			Path:       joinPath(path, key),
			OldValue:   oldVal,
			ChangeType: ChangeRemoved,
		})
	}
}

func diffSlices(path string, old, new []any, changes *[]StateChange) {
	maxLen := len(old)
	if len(new) > maxLen {
		maxLen = len(new)
	}
	for i := 0; i < maxLen; i++ {
		childPath := fmt.Sprintf("%s.%d", path, i)
		switch {
		case i >= len(old):
			*changes = append(*changes, StateChange{
				Path:       childPath,
				NewValue:   new[i],
				ChangeType: ChangeAdded,
			})
		case i >= len(new):
			*changes = append(*changes, StateChange{
				Path:       childPath,
				OldValue:   old[i],
				ChangeType: ChangeRemoved,
			})
		default:
			diffValues(childPath, old[i], new[i], changes)
		}
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
