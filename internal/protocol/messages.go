package protocol

// HELLO (node -> coordinator)
type HelloMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	NodeName        string      `json:"node_name"`
	Viewpoint       *[3]float64 `json:"viewpoint,omitempty"`
}

// WELCOME (coordinator -> node). Carries the shared tuning every node must
// agree on plus the full agent roster.
type WelcomeMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	NodeID          string       `json:"node_id"`
	Params          SimParams    `json:"params"`
	Agents          []AgentState `json:"agents"`
}

// SimParams is the coordinator-owned tuning pushed to every node. Claim
// arbitration only works if all nodes run the same numbers.
type SimParams struct {
	TickRateHz          int     `json:"tick_rate_hz"`
	SimulationRadius    float64 `json:"simulation_radius"`
	ReleaseHysteresis   float64 `json:"release_hysteresis"`
	MaxAgentsPerNode    int     `json:"max_agents_per_node"`
	ClaimDelayBaseMs    int     `json:"claim_delay_base_ms"`
	ClaimDelayPerUnitMs float64 `json:"claim_delay_per_unit_ms"`
	OwnershipTimeoutMs  int     `json:"ownership_timeout_ms"`
	SendIntervalMs      int     `json:"send_interval_ms"`
}

// CLAIM_AGENT (node -> coordinator). KnownVersion is the claim version the
// node last saw for the agent; a mismatch means the node raced a newer grant
// and loses.
type ClaimAgentMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AgentID         string `json:"agent_id"`
	KnownVersion    uint64 `json:"known_version"`
}

// CLAIM_RESULT (coordinator -> node). On rejection Version and Owner carry
// the current claim state, so the loser can fix its mirror without waiting
// for a sync.
type ClaimResultMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	AgentID         string      `json:"agent_id"`
	Accepted        bool        `json:"accepted"`
	Code            string      `json:"code,omitempty"`
	Version         uint64      `json:"version,omitempty"`
	Owner           string      `json:"owner,omitempty"`
	State           *AgentState `json:"state,omitempty"`
}

// RELEASE_AGENT (node -> coordinator). Version must match the node's grant;
// a stale release is dropped so a newer owner is not clobbered.
type ReleaseAgentMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	AgentID         string     `json:"agent_id"`
	Version         uint64     `json:"version"`
	Pos             [3]float64 `json:"pos"`
	Yaw             float64    `json:"yaw"`
	State           string     `json:"state,omitempty"`
}

// AGENT_POS (owner node -> coordinator -> interested nodes)
type AgentPosMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Updates         []PosUpdate `json:"updates"`
}

type PosUpdate struct {
	AgentID string     `json:"agent_id"`
	Pos     [3]float64 `json:"pos"`
	Yaw     float64    `json:"yaw"`
	State   string     `json:"state,omitempty"`
	Jumping bool       `json:"jumping,omitempty"`
	Version uint64     `json:"version"`
}

// AGENTS_ORPHANED (coordinator -> all nodes)
type AgentsOrphanedMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	Orphans         []OrphanEntry `json:"orphans"`
}

type OrphanEntry struct {
	AgentID string     `json:"agent_id"`
	Pos     [3]float64 `json:"pos"`
	Version uint64     `json:"version"`
}

// AGENT_JUMP (coordinator -> owning node)
type AgentJumpMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AgentID         string `json:"agent_id"`
}

// AGENT_MOVE (coordinator -> owning node). Commands a destination; the
// owner walks the agent there through its normal path pipeline.
type AgentMoveMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	AgentID         string     `json:"agent_id"`
	Dest            [3]float64 `json:"dest"`
}

// AGENT_SPAWNED (coordinator -> all nodes)
type AgentSpawnedMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Agent           AgentState `json:"agent"`
}

// AGENT_REMOVED (coordinator -> all nodes)
type AgentRemovedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AgentID         string `json:"agent_id"`
}

// NODE_VIEWPOINT (node -> coordinator). The coordinator distance-filters
// broadcasts around this point.
type NodeViewpointMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Pos             [3]float64 `json:"pos"`
}

// ERROR (either direction)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
