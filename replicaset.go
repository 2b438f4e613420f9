package router

// ReplicaSet holds the currently active replicas, rebuilt wholesale on
// every UpdateReplicas call — the pool of replicas behind one
// deployment is small enough in practice that an O(n) rebuild beats
// incremental bookkeeping complexity (the same tradeoff the teacher
// makes for TaskQueue's ordering). Node/AZ/model filtering is done by
// the ranker's own linear scan over All() rather than a maintained
// index, since the candidate pool size this runs against is the same
// small n.
type ReplicaSet struct {
	byID map[ReplicaID]ReplicaHandle
}

func newReplicaSet() *ReplicaSet {
	return &ReplicaSet{byID: make(map[ReplicaID]ReplicaHandle)}
}

// buildReplicaSet indexes handles by ReplicaID.
func buildReplicaSet(handles []ReplicaHandle) *ReplicaSet {
	rs := newReplicaSet()
	for _, h := range handles {
		rs.byID[h.ReplicaID()] = h
	}
	return rs
}

// All returns every active replica in unspecified order.
func (rs *ReplicaSet) All() []ReplicaHandle {
	out := make([]ReplicaHandle, 0, len(rs.byID))
	for _, h := range rs.byID {
		out = append(out, h)
	}
	return out
}

func (rs *ReplicaSet) Len() int { return len(rs.byID) }

func (rs *ReplicaSet) Has(id ReplicaID) bool {
	_, ok := rs.byID[id]
	return ok
}

func (rs *ReplicaSet) Get(id ReplicaID) (ReplicaHandle, bool) {
	h, ok := rs.byID[id]
	return h, ok
}

// diffReplicaSets reports which replica IDs are newly present in next
// relative to prev — used by UpdateReplicas to decide which replicas
// need an eager warm-up probe (spec.md §4.6), mirroring the teacher's
// AgentMonitor.checkLiveness diff-against-stored-state pattern.
func diffReplicaSets(prev, next *ReplicaSet) (added []ReplicaHandle, removed []ReplicaID) {
	for id, h := range next.byID {
		if prev == nil || !prev.Has(id) {
			added = append(added, h)
		}
	}
	if prev != nil {
		for id := range prev.byID {
			if !next.Has(id) {
				removed = append(removed, id)
			}
		}
	}
	return added, removed
}
