package controller

import "github.com/kixelated/warp/pkg/session"

// Publish is a session sending one track to a relay. Its Active snapshots
// count the bytes and frames sent.
type Publish struct {
    *base
}

// NewPublish starts a publish session for track at address. It returns at
// once with the session in Idle.
func NewPublish(address, track string, opts ...Option) (*Publish, error) {
    b, err := newBase(session.RolePublish, address, track, opts)
    if err != nil { return nil, err }
    if err := b.enqueue("create", session.Connect(address)); err != nil { return nil, err }
    return &Publish{base: b}, nil
}

// Publish queues one media frame. frame may be reused after it returns.
func (p *Publish) Publish(frame []byte) error {
    return p.send("publish", session.Publish(p.track, frame))
}
