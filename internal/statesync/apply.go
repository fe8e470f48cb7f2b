package statesync

import (
	"fmt"
	"strconv"
	"strings"
)

// Apply reconstructs base into a new state by replaying update's changes,
// then validates the result against the checksums carried in update: the
// pre-image must match update.BaseChecksum and the post-image must match
// update.Metadata.Checksum, or ErrChecksumMismatch is returned and base is
// left untouched.
func Apply(base map[string]any, update *IncrementalUpdate) (map[string]any, error) {
	baseChecksum, err := Fingerprint(base)
	if err != nil {
		return nil, err
	}
	if baseChecksum != update.BaseChecksum {
		return nil, fmt.Errorf("%w: base checksum %s != expected %s", ErrChecksumMismatch, baseChecksum, update.BaseChecksum)
	}

	result := deepCopyMap(base)
	for _, change := range update.Changes {
		segments := strings.Split(change.Path, ".")
		switch change.ChangeType {
		case ChangeAdded, ChangeModified:
			if err := setPath(result, segments, change.NewValue); err != nil {
				return nil, err
			}
		case ChangeRemoved:
			if err := deletePath(result, segments); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown change type %q at %s", change.ChangeType, change.Path)
		}
	}

	finalChecksum, err := Fingerprint(result)
	if err != nil {
		return nil, err
	}
	if finalChecksum != update.Metadata.Checksum {
		return nil, fmt.Errorf("%w: result checksum %s != expected %s", ErrChecksumMismatch, finalChecksum, update.Metadata.Checksum)
	}
	return result, nil
}

func setPath(root map[string]any, segments []string, value any) error {
	container, lastKey, err := navigate(root, segments)
	if err != nil {
		return err
	}
	switch c := container.(type) {
	case map[string]any:
		c[lastKey] = value
	case []any:
		idx, err := strconv.Atoi(lastKey)
		if err != nil {
			return fmt.Errorf("path segment %q is not a valid array index", lastKey)
		}
		if idx == len(c) {
			return fmt.Errorf("appending to arrays via path is unsupported at index %d", idx)
		}
		if idx < 0 || idx >= len(c) {
			return fmt.Errorf("array index %d out of range", idx)
		}
		c[idx] = value
	default:
		return fmt.Errorf("cannot set path segment %q on %T", lastKey, container)
	}
	return nil
}

func deletePath(root map[string]any, segments []string) error {
	container, lastKey, err := navigate(root, segments)
	if err != nil {
		return err
	}
	m, ok := container.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot remove path segment %q from %T", lastKey, container)
	}
	delete(m, lastKey)
	return nil
}

// navigate walks segments[:len-1] from root, returning the final container
// (map or slice) and the last path segment to act on within it.
func navigate(root map[string]any, segments []string) (any, string, error) {
	if len(segments) == 0 {
		return nil, "", fmt.Errorf("empty path")
	}
	var current any = root
	for _, seg := range segments[:len(segments)-1] {
		switch c := current.(type) {
		case map[string]any:
			next, ok := c[seg]
			if !ok {
				return nil, "", fmt.Errorf("path segment %q not found", seg)
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, "", fmt.Errorf("invalid array index %q", seg)
			}
			current = c[idx]
		default:
			return nil, "", fmt.Errorf("cannot descend into %T at %q", current, seg)
		}
	}
	return current, segments[len(segments)-1], nil
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return val
	}
}
