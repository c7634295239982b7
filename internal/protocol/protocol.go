package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello          = "HELLO"
	TypeWelcome        = "WELCOME"
	TypeClaimAgent     = "CLAIM_AGENT"
	TypeClaimResult    = "CLAIM_RESULT"
	TypeReleaseAgent   = "RELEASE_AGENT"
	TypeAgentPos       = "AGENT_POS"
	TypeAgentsOrphaned = "AGENTS_ORPHANED"
	TypeAgentJump      = "AGENT_JUMP"
	TypeAgentMove      = "AGENT_MOVE"
	TypeAgentSpawned   = "AGENT_SPAWNED"
	TypeAgentRemoved   = "AGENT_REMOVED"
	TypeNodeViewpoint  = "NODE_VIEWPOINT"
	TypeError          = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
