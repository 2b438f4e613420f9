package router

// Tier is an unordered set of candidate replicas sharing a ranking
// class. Tiers are visited in strict order during a routing attempt
// (spec.md §4.2); within a tier the worker samples candidates, it does
// not rank them further.
type Tier []ReplicaHandle

// RankReplicasViaLocality produces the locality tiers (spec.md §4.2
// rule 2) over the given candidate pool: L1 (same node, only if
// preferLocalNode), L2 (same AZ, only if preferLocalAZ), L3 (everyone).
// Exposed standalone so tests can inspect tier structure without
// driving the worker pool, per spec.md's introspection requirement.
func RankReplicasViaLocality(candidates []ReplicaHandle, preferLocalNode bool, selfNodeID string, preferLocalAZ bool, selfAZ string) []Tier {
	var tiers []Tier

	if preferLocalNode && selfNodeID != "" {
		var l1 Tier
		for _, h := range candidates {
			if h.NodeID() == selfNodeID {
				l1 = append(l1, h)
			}
		}
		if len(l1) > 0 {
			tiers = append(tiers, l1)
		}
	}

	if preferLocalAZ && selfAZ != "" {
		var l2 Tier
		for _, h := range candidates {
			if az, ok := h.AvailabilityZone(); ok && az == selfAZ {
				l2 = append(l2, h)
			}
		}
		if len(l2) > 0 {
			tiers = append(tiers, l2)
		}
	}

	l3 := make(Tier, len(candidates))
	copy(l3, candidates)
	tiers = append(tiers, l3)
	return tiers
}

// RankReplicasViaMultiplex produces the multiplex tiers (spec.md §4.2
// rule 1) over the given candidate pool: M1 (replicas already carrying
// modelID), M2 (replicas carrying some model, fewest distinct model ids
// first — the cheapest replica to repurpose). Replicas with no
// multiplexed model ids at all are absent from both tiers; they only
// ever show up in the locality fallback.
func RankReplicasViaMultiplex(candidates []ReplicaHandle, modelID string) []Tier {
	var m1, m2 Tier
	for _, h := range candidates {
		ids := h.MultiplexedModelIDs()
		if len(ids) == 0 {
			continue
		}
		if _, ok := ids[modelID]; ok {
			m1 = append(m1, h)
			continue
		}
		m2 = append(m2, h)
	}

	// Fewest cached model ids first: insertion sort is fine, m2 is
	// bounded by the replica pool size, which is small in practice.
	for i := 1; i < len(m2); i++ {
		for j := i; j > 0 && len(m2[j].MultiplexedModelIDs()) < len(m2[j-1].MultiplexedModelIDs()); j-- {
			m2[j], m2[j-1] = m2[j-1], m2[j]
		}
	}

	var tiers []Tier
	if len(m1) > 0 {
		tiers = append(tiers, m1)
	}
	if len(m2) > 0 {
		tiers = append(tiers, m2)
	}
	return tiers
}

// buildTiers assembles the full, strictly-ordered tier list for one
// routing attempt: multiplex tiers (if requested) first, then the
// locality tiers over the full candidate pool. The worker is
// responsible for the soft multiplex_matching_timeout_s bail-out
// (spec.md §4.2) since that depends on wall-clock elapsed since the
// attempt began, not on anything derivable here.
func buildTiers(candidates []ReplicaHandle, req *PendingRequest, cfg RouterConfig) []Tier {
	var tiers []Tier
	if req.MultiplexedModelID != "" {
		tiers = append(tiers, RankReplicasViaMultiplex(candidates, req.MultiplexedModelID)...)
	}
	tiers = append(tiers, RankReplicasViaLocality(candidates, cfg.PreferLocalNode, cfg.SelfNodeID, cfg.PreferLocalAZ, cfg.SelfAZ)...)
	return tiers
}
