package controller

import "github.com/kixelated/warp/pkg/session"

// Watch is a session receiving one track from a relay.
type Watch struct {
    *base
}

// NewWatch starts a watch session for track at address. It returns at once
// with the session in Idle; connection progress arrives as snapshots.
func NewWatch(address, track string, opts ...Option) (*Watch, error) {
    b, err := newBase(session.RoleWatch, address, track, opts)
    if err != nil { return nil, err }
    if err := b.enqueue("create", session.Connect(address)); err != nil { return nil, err }
    if err := b.enqueue("create", session.Subscribe(track)); err != nil { return nil, err }
    return &Watch{base: b}, nil
}

// StopTrack unsubscribes from the watched track. The session stays connected.
func (w *Watch) StopTrack() error {
    cmd := session.Unsubscribe()
    cmd.Track = w.track
    return w.send("unsubscribe", cmd)
}
