package protocol

// SplitUpdates chops a position batch so no single message exceeds max
// entries. max <= 0 means no limit.
func SplitUpdates(updates []PosUpdate, max int) []AgentPosMsg {
	if len(updates) == 0 {
		return nil
	}
	if max <= 0 {
		max = len(updates)
	}
	var out []AgentPosMsg
	for len(updates) > 0 {
		n := max
		if n > len(updates) {
			n = len(updates)
		}
		out = append(out, AgentPosMsg{
			Type:            TypeAgentPos,
			ProtocolVersion: Version,
			Updates:         updates[:n],
		})
		updates = updates[n:]
	}
	return out
}
