package horizon

import "github.com/google/uuid"

// variant tags which arena an oldest-candidate came from.
type variant int

const (
	variantSerializable variant = iota
	variantReadOnly
)

// oldestOverall returns the globally oldest live transaction across both
// arenas, tie-breaking on the smaller start time, or ok=false if the
// horizon is empty.
func (h *Horizon) oldestOverall() (xid uuid.UUID, v variant, ok bool) {
	sp := h.serializable.Oldest()
	rp := h.readonly.Oldest()

	switch {
	case sp == nil && rp == nil:
		return uuid.Nil, 0, false
	case sp == nil:
		return rp.Key, variantReadOnly, true
	case rp == nil:
		return sp.Key, variantSerializable, true
	case rp.Value.StartTime() < sp.Value.StartTime():
		return rp.Key, variantReadOnly, true
	default:
		return sp.Key, variantSerializable, true
	}
}

// evict rolls back and removes the given transaction, unlinking it first if
// it is serializable.
func (h *Horizon) evict(xid uuid.UUID, v variant) {
	switch v {
	case variantSerializable:
		if s, ok := h.serializable.Get(xid); ok {
			h.unlinkSerializable(s)
			s.MarkRolledBack()
			h.serializable.Delete(xid)
		}
	case variantReadOnly:
		if r, ok := h.readonly.Get(xid); ok {
			r.MarkRolledBack()
			h.readonly.Delete(xid)
		}
	}
}

// enforceLimits repeatedly evicts the oldest live transaction while either
// invariant is violated: |horizon| ≤ maxLen, and for every live
// transaction, now − start ≤ maxAge (checked via the oldest one, since age
// only grows backwards in insertion order).
func (h *Horizon) enforceLimits() {
	for h.maxLen > 0 && h.Len() > h.maxLen {
		xid, v, ok := h.oldestOverall()
		if !ok {
			break
		}
		h.evict(xid, v)
	}

	for h.maxAge > 0 {
		xid, v, ok := h.oldestOverall()
		if !ok {
			break
		}
		var start int64
		switch v {
		case variantSerializable:
			s, _ := h.serializable.Get(xid)
			start = int64(s.StartTime())
		case variantReadOnly:
			r, _ := h.readonly.Get(xid)
			start = int64(r.StartTime())
		}
		if int64(h.now)-start <= int64(h.maxAge) {
			break
		}
		h.evict(xid, v)
	}
}
