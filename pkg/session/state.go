// Package session holds the value types exchanged between a controller and the
// engine host: commands flowing down, sequenced state snapshots flowing up.
package session

// Role distinguishes the two kinds of relationship a session can have with the
// transport engine.
type Role uint8

const (
    RoleWatch Role = iota + 1
    RolePublish
)

func (r Role) String() string {
    switch r {
    case RoleWatch:
        return "watch"
    case RolePublish:
        return "publish"
    default:
        return "unknown"
    }
}

// StateKind is the discriminator of a Snapshot.
type StateKind uint8

const (
    StateIdle StateKind = iota
    StateConnecting
    StateConnected
    StateActive
    StateClosing
    StateClosed
    StateFaulted
)

func (k StateKind) String() string {
    switch k {
    case StateIdle:
        return "idle"
    case StateConnecting:
        return "connecting"
    case StateConnected:
        return "connected"
    case StateActive:
        return "active"
    case StateClosing:
        return "closing"
    case StateClosed:
        return "closed"
    case StateFaulted:
        return "faulted"
    default:
        return "unknown"
    }
}

// Terminal reports whether no snapshot may follow this state.
func (k StateKind) Terminal() bool { return k == StateClosed || k == StateFaulted }

// Stopping reports whether commands must no longer be issued in this state.
func (k StateKind) Stopping() bool { return k == StateClosing || k.Terminal() }

// CanTransition reports whether a session in state from may move to state to.
//
//  Idle -> Connecting -> Connected <-> Active -> Closing -> Closed
//
// Faulted and Closed are reachable from every non-terminal state; Connected and
// Active may repeat to carry track list and stats updates.
func CanTransition(from, to StateKind) bool {
    if from.Terminal() {
        return false
    }
    switch to {
    case StateFaulted, StateClosed:
        return true
    case StateClosing:
        return from != StateClosing
    case StateConnecting:
        return from == StateIdle
    case StateConnected:
        return from == StateConnecting || from == StateConnected || from == StateActive
    case StateActive:
        return from == StateConnected || from == StateActive
    default:
        return false
    }
}
