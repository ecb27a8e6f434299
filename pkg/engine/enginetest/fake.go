// Package enginetest provides a scriptable in-memory engine for tests.
package enginetest

import (
    "errors"
    "sync"
    "time"

    "github.com/kixelated/warp/pkg/engine"
)

// Fake is a scriptable engine.Engine. Configure its fields before handing it
// to a host; inspect it through the accessor methods.
type Fake struct {
    ConnectErr     error
    ConnectBlock   chan struct{} // Connect waits for it to close when set
    SubscribeErr   error
    SubscribePanic any
    PublishErr     error
    CloseBlock     chan struct{} // Close waits for it to close when set

    mu        sync.Mutex
    calls     []string
    url       string
    tracks    []string
    published [][]byte
    closed    chan struct{}
    closeOnce sync.Once
    media     chan engine.Media
    done      chan struct{}
    doneOnce  sync.Once
    err       error
    seq       uint64
}

var (
    _ engine.Engine       = (*Fake)(nil)
    _ engine.Unsubscriber = (*Fake)(nil)
    _ engine.MediaSource  = (*Fake)(nil)
    _ engine.Failer       = (*Fake)(nil)
)

func New() *Fake {
    return &Fake{
        closed: make(chan struct{}),
        media:  make(chan engine.Media, 64),
        done:   make(chan struct{}),
    }
}

func (f *Fake) record(call string) {
    f.mu.Lock(); f.calls = append(f.calls, call); f.mu.Unlock()
}

func (f *Fake) Connect(url string) error {
    f.record("connect")
    if f.ConnectBlock != nil { <-f.ConnectBlock }
    if f.ConnectErr != nil { return f.ConnectErr }
    f.mu.Lock(); f.url = url; f.mu.Unlock()
    return nil
}

func (f *Fake) Subscribe(track string) error {
    f.record("subscribe")
    if f.SubscribePanic != nil { panic(f.SubscribePanic) }
    if f.SubscribeErr != nil { return f.SubscribeErr }
    f.mu.Lock(); f.tracks = append(f.tracks, track); f.mu.Unlock()
    return nil
}

func (f *Fake) Unsubscribe(track string) error {
    f.record("unsubscribe")
    f.mu.Lock(); defer f.mu.Unlock()
    for i, t := range f.tracks {
        if t == track {
            f.tracks = append(f.tracks[:i], f.tracks[i+1:]...)
            return nil
        }
    }
    return errors.New("enginetest: track not subscribed")
}

func (f *Fake) Publish(track string, frame []byte) error {
    f.record("publish")
    if f.PublishErr != nil { return f.PublishErr }
    f.mu.Lock(); f.published = append(f.published, append([]byte(nil), frame...)); f.mu.Unlock()
    return nil
}

func (f *Fake) Close() {
    f.record("close")
    f.closeOnce.Do(func() { close(f.closed) })
    if f.CloseBlock != nil { <-f.CloseBlock }
}

func (f *Fake) Media() <-chan engine.Media { return f.media }
func (f *Fake) Done() <-chan struct{}      { return f.done }

func (f *Fake) Err() error {
    f.mu.Lock(); defer f.mu.Unlock()
    return f.err
}

// Push delivers a received frame on track.
func (f *Fake) Push(track string, data []byte) {
    f.mu.Lock(); f.seq++; seq := f.seq; f.mu.Unlock()
    f.media <- engine.Media{Track: track, Seq: seq, Data: data, At: time.Now()}
}

// Fail makes the engine fail asynchronously with err.
func (f *Fake) Fail(err error) {
    f.doneOnce.Do(func() {
        f.mu.Lock(); f.err = err; f.mu.Unlock()
        close(f.done)
    })
}

// Calls returns the engine methods invoked so far, in order.
func (f *Fake) Calls() []string {
    f.mu.Lock(); defer f.mu.Unlock()
    return append([]string(nil), f.calls...)
}

func (f *Fake) URL() string {
    f.mu.Lock(); defer f.mu.Unlock()
    return f.url
}

func (f *Fake) Tracks() []string {
    f.mu.Lock(); defer f.mu.Unlock()
    return append([]string(nil), f.tracks...)
}

func (f *Fake) Published() [][]byte {
    f.mu.Lock(); defer f.mu.Unlock()
    return append([][]byte(nil), f.published...)
}

// Closed is closed once Close was called.
func (f *Fake) Closed() <-chan struct{} { return f.closed }
