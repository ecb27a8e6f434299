package session

import (
    "fmt"
    "strings"
)

// Stats are cumulative counters for the media flowing through a session:
// received for watch sessions, sent for publish sessions.
type Stats struct {
    Bytes  uint64 `json:"bytes"`
    Frames uint64 `json:"frames"`
}

// Snapshot is an immutable, sequenced description of a session's full
// observable state. Only the fields relevant to Kind are populated.
//
// Seq and Kind travel in the envelope header, not in the encoded body.
type Snapshot struct {
    Seq     uint64    `json:"-"`
    Kind    StateKind `json:"-"`
    Tracks  []string  `json:"tracks,omitempty"`
    Track   string    `json:"track,omitempty"`
    Stats   Stats     `json:"stats"`
    Fault   FaultKind `json:"fault,omitempty"`
    Message string    `json:"message,omitempty"`
}

func Idle() Snapshot       { return Snapshot{Kind: StateIdle} }
func Connecting() Snapshot { return Snapshot{Kind: StateConnecting} }
func Closing() Snapshot    { return Snapshot{Kind: StateClosing} }
func Closed() Snapshot     { return Snapshot{Kind: StateClosed} }

// Connected describes an established session and the tracks currently
// subscribed or announced on it.
func Connected(tracks ...string) Snapshot {
    return Snapshot{Kind: StateConnected, Tracks: append([]string{}, tracks...)}
}

// Active describes media flowing on track.
func Active(track string, stats Stats) Snapshot {
    return Snapshot{Kind: StateActive, Track: track, Stats: stats}
}

// Faulted describes a session that failed permanently.
func Faulted(kind FaultKind, message string) Snapshot {
    return Snapshot{Kind: StateFaulted, Fault: kind, Message: message}
}

// WithSeq returns a copy of s carrying sequence number seq.
func (s Snapshot) WithSeq(seq uint64) Snapshot {
    out := s.Clone()
    out.Seq = seq
    return out
}

// Clone returns a deep copy so that holders can never alias each other.
func (s Snapshot) Clone() Snapshot {
    out := s
    if s.Tracks != nil {
        out.Tracks = append([]string{}, s.Tracks...)
    }
    return out
}

// Equal compares two snapshots including sequence numbers.
func (s Snapshot) Equal(o Snapshot) bool {
    if s.Seq != o.Seq || s.Kind != o.Kind || s.Track != o.Track || s.Stats != o.Stats ||
        s.Fault != o.Fault || s.Message != o.Message || len(s.Tracks) != len(o.Tracks) {
        return false
    }
    for i := range s.Tracks {
        if s.Tracks[i] != o.Tracks[i] { return false }
    }
    return true
}

func (s Snapshot) String() string {
    switch s.Kind {
    case StateConnected:
        return fmt.Sprintf("#%d connected{%s}", s.Seq, strings.Join(s.Tracks, ","))
    case StateActive:
        return fmt.Sprintf("#%d active{%s bytes=%d frames=%d}", s.Seq, s.Track, s.Stats.Bytes, s.Stats.Frames)
    case StateFaulted:
        return fmt.Sprintf("#%d faulted{%s: %s}", s.Seq, s.Fault, s.Message)
    default:
        return fmt.Sprintf("#%d %s", s.Seq, s.Kind)
    }
}
