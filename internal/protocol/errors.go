package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Claim arbitration.
	ErrClaimTaken = "E_CLAIM_TAKEN"
	ErrClaimCap   = "E_CLAIM_CAP"
	ErrClaimStale = "E_CLAIM_STALE"

	// State access.
	ErrUnknownAgent = "E_UNKNOWN_AGENT"
	ErrNotOwner     = "E_NOT_OWNER"

	ErrRateLimit = "E_RATE_LIMIT"
	ErrInternal  = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrClaimTaken:      {},
	ErrClaimCap:        {},
	ErrClaimStale:      {},
	ErrUnknownAgent:    {},
	ErrNotOwner:        {},
	ErrRateLimit:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
