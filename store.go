package latchman

// ConnState is the client's view of its session with the coordination
// ensemble.
type ConnState int

const (
	// StateConnected means the session is live.
	StateConnected ConnState = iota
	// StateSuspended means the connection dropped but the session may still
	// be alive server-side; ephemeral nodes are not yet presumed gone.
	StateSuspended
	// StateLost means the session expired; any ephemeral nodes created under
	// it may already be deleted.
	StateLost
	// StateReconnected means a new session was established after a loss of
	// connectivity.
	StateReconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "Connected"
	case StateSuspended:
		return "Suspended"
	case StateLost:
		return "Lost"
	case StateReconnected:
		return "Reconnected"
	default:
		return "Unknown"
	}
}

// StateSubscription delivers session-state transitions to one subscriber.
// Close it when done; events published after Close are dropped.
type StateSubscription struct {
	ch     chan ConnState
	cancel func()
}

// C is the channel session-state transitions arrive on.
func (s *StateSubscription) C() <-chan ConnState {
	return s.ch
}

// Close tears the subscription down. Safe to call once.
func (s *StateSubscription) Close() {
	s.cancel()
}

// LatchStore is the slice of a coordination store a LeaderLatch needs. It is
// satisfied by LatchMan; tests substitute a scriptable fake.
type LatchStore interface {
	// EnsurePath creates path and any missing parents. Existing nodes are
	// not an error.
	EnsurePath(path string) error

	// CreateEphemeralOrdered creates an ephemeral sequential node whose name
	// starts with the final segment of pathPrefix. The create must be safe
	// to retry after a connection loss without leaving duplicate nodes.
	CreateEphemeralOrdered(pathPrefix string, data []byte) (string, error)

	// DeleteGuaranteed deletes path, retrying across transient connection
	// loss. A node that is already gone counts as success.
	DeleteGuaranteed(path string) error

	// Children lists the child names of parent, in no particular order.
	Children(parent string) ([]string, error)

	// Get reads the payload of path.
	Get(path string) ([]byte, error)

	// ExistsW reports whether path exists and, if it does, returns a channel
	// that is closed once after the node is deleted.
	ExistsW(path string) (bool, <-chan struct{}, error)

	// SubscribeConnState registers for session-state transitions.
	SubscribeConnState() *StateSubscription
}
