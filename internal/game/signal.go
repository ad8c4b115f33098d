// Package game is the authoritative core of the server: the per-game round
// engine, the tick loop that drives it together with the matchmaker, and the
// outbound signal types the transport consumes. All state in this package is
// mutated by exactly one goroutine (the tick loop); communication with the
// transport and the persistence worker happens only over channels.
package game

// Signal is one outbound delivery instruction for the transport layer.
// Payloads are already-encoded protocol envelopes; the transport never
// inspects them.
type Signal interface {
	isSignal()
}

// SendOne delivers a payload to a single endpoint. Unknown or absent
// endpoints are silently dropped.
type SendOne struct {
	EndpointID string
	Payload    string
}

// SyncPair delivers the same payload to both endpoints of a game. Either
// endpoint may be empty (bots, disconnected players); each recipient is
// dropped independently.
type SyncPair struct {
	EndpointA string
	EndpointB string
	Payload   string
}

func (SendOne) isSignal()  {}
func (SyncPair) isSignal() {}
