package calls

import "reflect"

// mergeStrategy selects how one top-level field of a call document absorbs
// an incoming value during an update.
type mergeStrategy int

const (
	// overwriteNonEmpty sets the field when the incoming value is not
	// null/empty. Default for scalars.
	overwriteNonEmpty mergeStrategy = iota
	// deepMergeNonEmpty merges nested objects key-by-key; a sub-field is
	// overwritten only when the incoming value is non-empty, so a partial
	// update never blanks previously collected data.
	deepMergeNonEmpty
	// appendDistinctByTimestamp appends list entries whose "timestamp" is
	// not already present. Dedup is by timestamp, not content.
	appendDistinctByTimestamp
	// replaceNonEmpty replaces the whole array when a non-empty one
	// arrives. The agent sends the authoritative current list each time.
	replaceNonEmpty
	// setUnion unions string lists, preserving existing order and
	// appending unseen values.
	setUnion
)

// mergePolicy is the per-field merge table for call documents. Fields not
// listed use overwriteNonEmpty.
var mergePolicy = map[string]mergeStrategy{
	"contact":          deepMergeNonEmpty,
	"service_address":  deepMergeNonEmpty,
	"problem":          deepMergeNonEmpty,
	"conversation_log": appendDistinctByTimestamp,
	"availability":     replaceNonEmpty,
	"reason_codes":     setUnion,
}

// mergeDoc applies the merge table to produce the post-update view of a
// call document. Neither input is modified.
func mergeDoc(existing, incoming map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = copyValue(v)
	}

	for k, v := range incoming {
		switch mergePolicy[k] {
		case deepMergeNonEmpty:
			sub, ok := v.(map[string]any)
			if !ok || len(sub) == 0 {
				continue
			}
			base, _ := out[k].(map[string]any)
			merged := make(map[string]any, len(base)+len(sub))
			for bk, bv := range base {
				merged[bk] = copyValue(bv)
			}
			for sk, sv := range sub {
				if !isEmpty(sv) {
					merged[sk] = copyValue(sv)
				}
			}
			out[k] = merged

		case appendDistinctByTimestamp:
			entries, ok := v.([]any)
			if !ok || len(entries) == 0 {
				continue
			}
			log, _ := out[k].([]any)
			seen := map[any]bool{}
			for _, e := range log {
				if m, ok := e.(map[string]any); ok {
					seen[m["timestamp"]] = true
				}
			}
			for _, e := range entries {
				m, ok := e.(map[string]any)
				if ok && seen[m["timestamp"]] {
					continue
				}
				log = append(log, copyValue(e))
				if ok {
					seen[m["timestamp"]] = true
				}
			}
			out[k] = log

		case replaceNonEmpty:
			if list, ok := v.([]any); ok && len(list) > 0 {
				out[k] = copyValue(v)
			}

		case setUnion:
			incomingList, ok := v.([]any)
			if !ok || len(incomingList) == 0 {
				continue
			}
			existingList, _ := out[k].([]any)
			seen := map[any]bool{}
			for _, e := range existingList {
				seen[e] = true
			}
			for _, e := range incomingList {
				if !seen[e] {
					existingList = append(existingList, e)
					seen[e] = true
				}
			}
			out[k] = existingList

		default:
			if !isEmpty(v) {
				out[k] = copyValue(v)
			}
		}
	}
	return out
}

// cleanEmpty strips nulls and empty strings recursively, dropping nested
// objects/lists that end up empty. False and 0 are meaningful and kept.
func cleanEmpty(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := map[string]any{}
		for k, item := range t {
			if item == nil || item == "" {
				continue
			}
			switch item.(type) {
			case map[string]any, []any:
				cleaned := cleanEmpty(item)
				if !isEmpty(cleaned) {
					out[k] = cleaned
				}
			default:
				out[k] = item
			}
		}
		return out
	case []any:
		out := []any{}
		for _, item := range t {
			if item == nil || item == "" {
				continue
			}
			switch item.(type) {
			case map[string]any, []any:
				cleaned := cleanEmpty(item)
				if !isEmpty(cleaned) {
					out = append(out, cleaned)
				}
			default:
				out = append(out, item)
			}
		}
		return out
	default:
		return v
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			out = append(out, copyValue(item))
		}
		return out
	default:
		return v
	}
}

func docsEqual(a, b map[string]any) bool {
	return reflect.DeepEqual(a, b)
}
