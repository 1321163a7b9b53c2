package crisis

import "testing"

func TestValidateGraph(t *testing.T) {
	if err := ValidateGraph(); err != nil {
		t.Fatalf("graph invariants violated: %v", err)
	}
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]Node{
		{NodeIngress, NodePIIScrub},
		{NodeCrisisGate, NodeEmotionInfer},
		{NodeCrisisGate, NodeCrisisPlaybook},
		{NodeOutputGuard, NodeEgress},
		{NodeOutputGuard, NodeCrisisPlaybook},
		{NodeDocumentMinimal, NodeEndSession},
	}
	for _, edge := range allowed {
		if !CanTransition(edge[0], edge[1]) {
			t.Fatalf("edge %s -> %s should exist", edge[0], edge[1])
		}
	}

	forbidden := [][2]Node{
		{NodeIngress, NodeCrisisPlaybook},
		{NodeCrisisPlaybook, NodeEmotionInfer},
		{NodeEgress, NodeIngress},
		{NodeEndSession, NodeIngress},
		{NodeRetrieveKC, NodeCrisisPlaybook},
	}
	for _, edge := range forbidden {
		if CanTransition(edge[0], edge[1]) {
			t.Fatalf("edge %s -> %s must not exist", edge[0], edge[1])
		}
	}
}

func TestCrisisPlaybookEntryPoints(t *testing.T) {
	// The crisis path may only be entered from the gate or the output guard.
	var sources []Node
	for from, tos := range transitions {
		for _, to := range tos {
			if to == NodeCrisisPlaybook {
				sources = append(sources, from)
			}
		}
	}
	if len(sources) != 2 {
		t.Fatalf("crisis_playbook entry points = %v, want crisis_gate and output_guard", sources)
	}
	for _, s := range sources {
		if s != NodeCrisisGate && s != NodeOutputGuard {
			t.Fatalf("unexpected crisis_playbook source %s", s)
		}
	}
}
