package crisis

import "fmt"

// Node identifies one state of the crisis policy graph.
type Node string

const (
	NodeIngress      Node = "ingress"
	NodePIIScrub     Node = "pii_scrub"
	NodeRiskDetect   Node = "risk_detect"
	NodeCrisisGate   Node = "crisis_gate"
	NodeEmotionInfer Node = "emotion_infer"
	NodeRetrieveKC   Node = "retrieve_kc"
	NodePolicySelect Node = "policy_select"
	NodeToolPlan     Node = "tool_plan"
	NodeComposeReply Node = "compose_reply"
	NodeOutputGuard  Node = "output_guard"
	NodeEgress       Node = "egress"

	NodeCrisisPlaybook  Node = "crisis_playbook"
	NodeSafetyScript    Node = "safety_script"
	NodeResourceOffer   Node = "resource_offer"
	NodeHandoffRouter   Node = "handoff_router"
	NodeDocumentMinimal Node = "document_minimal"
	NodeEndSession      Node = "end_session"
)

// transitions is the explicit edge table of the policy graph. Keeping it as
// data makes the single-entry, single-exit-per-path shape mechanically
// checkable: crisis_playbook is reachable only from crisis_gate and
// output_guard, so no partial blending of paths is possible.
var transitions = map[Node][]Node{
	NodeIngress:      {NodePIIScrub},
	NodePIIScrub:     {NodeRiskDetect},
	NodeRiskDetect:   {NodeCrisisGate},
	NodeCrisisGate:   {NodeEmotionInfer, NodeCrisisPlaybook},
	NodeEmotionInfer: {NodeRetrieveKC},
	NodeRetrieveKC:   {NodePolicySelect},
	NodePolicySelect: {NodeToolPlan},
	NodeToolPlan:     {NodeComposeReply},
	NodeComposeReply: {NodeOutputGuard},
	NodeOutputGuard:  {NodeEgress, NodeCrisisPlaybook},
	NodeEgress:       {},

	NodeCrisisPlaybook:  {NodeSafetyScript},
	NodeSafetyScript:    {NodeResourceOffer},
	NodeResourceOffer:   {NodeHandoffRouter},
	NodeHandoffRouter:   {NodeDocumentMinimal},
	NodeDocumentMinimal: {NodeEndSession},
	NodeEndSession:      {},
}

// EntryNode is the single entry of the graph.
const EntryNode = NodeIngress

// CanTransition reports whether the edge from -> to exists.
func CanTransition(from, to Node) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateGraph checks the structural invariants of the transition table:
// a strict DAG, exactly one entry node (ingress), terminal nodes egress and
// end_session, and every node reachable from the entry.
func ValidateGraph() error {
	incoming := map[Node]int{}
	for node := range transitions {
		if _, ok := incoming[node]; !ok {
			incoming[node] = 0
		}
		for _, next := range transitions[node] {
			if _, ok := transitions[next]; !ok {
				return fmt.Errorf("edge %s -> %s targets undeclared node", node, next)
			}
			incoming[next]++
		}
	}

	var entries []Node
	for node, n := range incoming {
		if n == 0 {
			entries = append(entries, node)
		}
	}
	if len(entries) != 1 || entries[0] != EntryNode {
		return fmt.Errorf("graph must have exactly one entry node %s, got %v", EntryNode, entries)
	}

	for _, terminal := range []Node{NodeEgress, NodeEndSession} {
		if len(transitions[terminal]) != 0 {
			return fmt.Errorf("terminal node %s has outgoing edges", terminal)
		}
	}

	// Cycle check plus reachability via DFS from the entry.
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := map[Node]int{}
	var visit func(Node) error
	visit = func(n Node) error {
		color[n] = grey
		for _, next := range transitions[n] {
			switch color[next] {
			case grey:
				return fmt.Errorf("cycle through %s -> %s", n, next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[n] = black
		return nil
	}
	if err := visit(EntryNode); err != nil {
		return err
	}
	for node := range transitions {
		if color[node] != black {
			return fmt.Errorf("node %s unreachable from %s", node, EntryNode)
		}
	}
	return nil
}
