package router

import "testing"

func TestRankReplicasViaLocalityTiers(t *testing.T) {
	local := newFakeReplica("d", "local", 10)
	local.node = "node-a"
	local.az, local.azOK = "az-1", true

	sameAZ := newFakeReplica("d", "same-az", 10)
	sameAZ.node = "node-b"
	sameAZ.az, sameAZ.azOK = "az-1", true

	elsewhere := newFakeReplica("d", "elsewhere", 10)
	elsewhere.node = "node-c"
	elsewhere.az, elsewhere.azOK = "az-2", true

	candidates := []ReplicaHandle{local, sameAZ, elsewhere}
	tiers := RankReplicasViaLocality(candidates, true, "node-a", true, "az-1")

	if len(tiers) != 3 {
		t.Fatalf("expected L1, L2, L3, got %d tiers", len(tiers))
	}
	if len(tiers[0]) != 1 || tiers[0][0].ReplicaID() != local.ReplicaID() {
		t.Fatalf("expected L1 to contain only the node-local replica, got %v", tiers[0])
	}
	if len(tiers[1]) != 1 || tiers[1][0].ReplicaID() != sameAZ.ReplicaID() {
		t.Fatalf("expected L2 to contain only the same-AZ replica, got %v", tiers[1])
	}
	if len(tiers[2]) != 3 {
		t.Fatalf("expected L3 to contain every candidate, got %d", len(tiers[2]))
	}
}

func TestRankReplicasViaLocalityOmitsEmptyTiers(t *testing.T) {
	other := newFakeReplica("d", "other", 10)
	other.node = "node-z"

	tiers := RankReplicasViaLocality([]ReplicaHandle{other}, true, "node-a", true, "az-1")
	if len(tiers) != 1 {
		t.Fatalf("expected only L3 when no candidate matches node or az, got %d tiers", len(tiers))
	}
}

func TestRankReplicasViaMultiplexTiers(t *testing.T) {
	exact := newFakeReplica("d", "exact", 10)
	exact.models["llama"] = struct{}{}

	crowded := newFakeReplica("d", "crowded", 10)
	crowded.models["mistral"] = struct{}{}
	crowded.models["gpt"] = struct{}{}

	sparse := newFakeReplica("d", "sparse", 10)
	sparse.models["mistral"] = struct{}{}

	unrelated := newFakeReplica("d", "unrelated", 10)

	candidates := []ReplicaHandle{exact, crowded, sparse, unrelated}
	tiers := RankReplicasViaMultiplex(candidates, "llama")

	if len(tiers) != 2 {
		t.Fatalf("expected M1 and M2, got %d tiers", len(tiers))
	}
	if len(tiers[0]) != 1 || tiers[0][0].ReplicaID() != exact.ReplicaID() {
		t.Fatalf("expected M1 to hold only the exact model match")
	}
	if len(tiers[1]) != 2 || tiers[1][0].ReplicaID() != sparse.ReplicaID() {
		t.Fatalf("expected M2 sorted fewest-models-first, starting with sparse, got %v", tiers[1])
	}
}

func TestBuildTiersPrependsMultiplexTiers(t *testing.T) {
	exact := newFakeReplica("d", "exact", 10)
	exact.models["llama"] = struct{}{}
	exact.node = "node-a"

	req := &PendingRequest{MultiplexedModelID: "llama"}
	cfg := DefaultRouterConfig()
	cfg.SelfNodeID = "node-a"

	tiers := buildTiers([]ReplicaHandle{exact}, req, cfg)
	if len(tiers) < 2 {
		t.Fatalf("expected multiplex tier(s) followed by locality tier(s), got %d", len(tiers))
	}
	if len(tiers[0]) != 1 || tiers[0][0].ReplicaID() != exact.ReplicaID() {
		t.Fatalf("expected the multiplex tier first")
	}
}
