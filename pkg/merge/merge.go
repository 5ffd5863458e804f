// Package merge implements the stateless reconciliation algorithm shared by
// the server store, the desktop bridge and the client-side coordinator. It
// owns no state and performs no I/O.
package merge

import (
	"sort"

	"chatsyncd/pkg/models"
)

// Messages combines two message collections into one, deduplicated by id and
// ordered by timestamp ascending. Messages without an id cannot be
// deduplicated or referenced later and are dropped. On an id collision the
// incoming message wins only when its timestamp strictly exceeds the stored
// one; ties keep the existing entry. newCount is the number of incoming
// messages that were not present in existing at all.
//
// Messages(X, X) returns (X, 0) for any X, which is what makes cursor loss
// and blind retries safe everywhere this package is used.
func Messages(existing, incoming []models.Message) (merged []models.Message, newCount int) {
	out := make([]models.Message, 0, len(existing)+len(incoming))
	idx := make(map[string]int, len(existing)+len(incoming))

	for _, m := range existing {
		if m.ID == "" {
			continue
		}
		if _, ok := idx[m.ID]; ok {
			// duplicate id inside existing itself; first occurrence wins
			continue
		}
		idx[m.ID] = len(out)
		out = append(out, m)
	}

	for _, m := range incoming {
		if m.ID == "" {
			continue
		}
		at, ok := idx[m.ID]
		if !ok {
			idx[m.ID] = len(out)
			out = append(out, m)
			newCount++
			continue
		}
		// last write wins on a strictly greater timestamp; the replacement
		// keeps the original slot so ties between equal timestamps stay
		// stable across participants
		if m.Timestamp > out[at].Timestamp {
			out[at] = m
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out, newCount
}

// AppendNew appends to existing every incoming message whose id is not
// already present. Unlike Messages it performs a pure existence check with no
// timestamp comparison and no re-ordering: the legacy desktop log is
// append-only and has no competing writer per topic, so last-write-wins
// reconciliation is deliberately not applied on that path.
func AppendNew(existing, incoming []models.Message) (out []models.Message, appended int) {
	seen := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		if m.ID != "" {
			seen[m.ID] = struct{}{}
		}
	}
	out = existing
	for _, m := range incoming {
		if m.ID == "" {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
		appended++
	}
	return out, appended
}

// Topics merges topic metadata lists as a keyed union. The key is Topic.Key
// (id, falling back to the legacy topicId field); on a collision the incoming
// entry unconditionally replaces the existing one. Topic metadata carries no
// meaningful independent timestamp, so no last-write-wins comparison is made
// here. Unkeyed entries are dropped. Order is existing-first, then new keys
// in incoming order.
func Topics(existing, incoming []models.Topic) []models.Topic {
	out := make([]models.Topic, 0, len(existing)+len(incoming))
	idx := make(map[string]int, len(existing)+len(incoming))

	for _, t := range existing {
		k := t.Key()
		if k == "" {
			continue
		}
		if _, ok := idx[k]; ok {
			continue
		}
		idx[k] = len(out)
		out = append(out, t)
	}
	for _, t := range incoming {
		k := t.Key()
		if k == "" {
			continue
		}
		if at, ok := idx[k]; ok {
			out[at] = t
			continue
		}
		idx[k] = len(out)
		out = append(out, t)
	}
	return out
}

// MaxTimestamp returns the greatest timestamp in msgs, or 0 when msgs is
// empty. The store uses it to derive the authoritative cursor after a merge.
func MaxTimestamp(msgs []models.Message) int64 {
	var max int64
	for _, m := range msgs {
		if m.Timestamp > max {
			max = m.Timestamp
		}
	}
	return max
}

// After returns the messages whose timestamp strictly exceeds since,
// preserving order. Zero-timestamp messages are never "new" relative to any
// cursor, including a zero cursor.
func After(msgs []models.Message, since int64) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Timestamp > since {
			out = append(out, m)
		}
	}
	return out
}
