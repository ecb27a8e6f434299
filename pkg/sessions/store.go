// Package sessions keeps the controller-side records of live and recently
// finished sessions in the in-memory KV.
package sessions

import (
    "encoding/json"
    "sort"
    "time"

    "go.uber.org/zap"

    "github.com/kixelated/warp/pkg/memkv"
    "github.com/kixelated/warp/pkg/session"
)

// DefaultRetention is how long a terminal session stays listed.
const DefaultRetention = 5 * time.Minute

const keyPrefix = "session:"

func keySession(id string) string { return keyPrefix + id }

type Store struct {
    kv        *memkv.Store
    retention time.Duration
    nowFn     func() time.Time
}

func NewStore(kv *memkv.Store, retention time.Duration) *Store {
    if retention <= 0 { retention = DefaultRetention }
    return &Store{kv: kv, retention: retention, nowFn: time.Now}
}

// Add records a new session in its Idle state.
func (s *Store) Add(info session.Info) {
    now := s.nowFn()
    if info.CreatedAt.IsZero() { info.CreatedAt = now }
    info.UpdatedAt = now
    b, _ := json.Marshal(info)
    s.kv.Set(keySession(info.ID), b, 0)
    zap.L().Debug("session added", zap.String("session", info.ID), zap.Stringer("role", info.Role), zap.String("track", info.Track))
}

func (s *Store) Get(id string) (session.Info, bool) {
    b, ok := s.kv.Get(keySession(id))
    if !ok { return session.Info{}, false }
    var info session.Info
    if err := json.Unmarshal(b, &info); err != nil { return session.Info{}, false }
    return info, true
}

// Apply folds snap into the record of id. A terminal snapshot starts the
// retention countdown.
func (s *Store) Apply(id string, snap session.Snapshot) bool {
    ok := s.kv.Update(keySession(id), func(old []byte) []byte {
        var info session.Info
        if err := json.Unmarshal(old, &info); err != nil { return old }
        info.Apply(snap, s.nowFn())
        b, _ := json.Marshal(info)
        return b
    })
    if ok && snap.Kind.Terminal() {
        _ = s.kv.Expire(keySession(id), s.retention)
        zap.L().Debug("session retired", zap.String("session", id), zap.Stringer("state", snap.Kind), zap.Duration("retention", s.retention))
    }
    return ok
}

func (s *Store) Delete(id string) bool { return s.kv.Delete(keySession(id)) }

// List returns all records ordered by creation time.
func (s *Store) List() []session.Info {
    keys := s.kv.Keys(keyPrefix)
    out := make([]session.Info, 0, len(keys))
    for _, k := range keys {
        if info, ok := s.Get(k[len(keyPrefix):]); ok { out = append(out, info) }
    }
    sort.SliceStable(out, func(i, j int) bool {
        if out[i].CreatedAt.Equal(out[j].CreatedAt) { return out[i].ID < out[j].ID }
        return out[i].CreatedAt.Before(out[j].CreatedAt)
    })
    return out
}

// Active counts sessions that have not reached a terminal state.
func (s *Store) Active() int {
    n := 0
    for _, info := range s.List() {
        if !info.State.Terminal() { n++ }
    }
    return n
}
