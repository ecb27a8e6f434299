package session

import "time"

// Info is the controller-side record of one session.
type Info struct {
    ID        string    `json:"id"`
    Role      Role      `json:"role"`
    Address   string    `json:"address"`
    Track     string    `json:"track"`
    State     StateKind `json:"state"`
    LastSeq   uint64    `json:"last_seq"`
    Stats     Stats     `json:"stats"`
    Fault     FaultKind `json:"fault,omitempty"`
    Message   string    `json:"message,omitempty"`
    CreatedAt time.Time `json:"created_at"`
    UpdatedAt time.Time `json:"updated_at"`
}

// Apply folds snap into the record.
func (i *Info) Apply(snap Snapshot, now time.Time) {
    i.State = snap.Kind
    i.LastSeq = snap.Seq
    if snap.Kind == StateActive {
        i.Stats = snap.Stats
    }
    if snap.Kind == StateFaulted {
        i.Fault, i.Message = snap.Fault, snap.Message
    }
    i.UpdatedAt = now
}
