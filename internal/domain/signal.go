package domain

import (
	"encoding/json"

	"github.com/pion/webrtc/v3"
)

// SessionEvent is one delivery from the session change feed. The feed carries
// full record snapshots, and it may redeliver; consumers must be idempotent.
type SessionEvent struct {
	Session *Session
}

// EncodeCandidate serializes an ICE candidate for the append-only store
// sequence. The serialized form is also the dedup key on the consuming side.
func EncodeCandidate(c webrtc.ICECandidateInit) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeCandidate parses a candidate read back from a session snapshot.
func DecodeCandidate(raw string) (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	err := json.Unmarshal([]byte(raw), &c)
	return c, err
}
