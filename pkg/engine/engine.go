// Package engine defines the contract between an engine host and the
// transport engine it drives. Engine calls may block for long periods, may
// fail with an error and may panic.
package engine

import "time"

// Engine is one transport session to a media relay.
type Engine interface {
    Connect(url string) error
    Subscribe(track string) error
    Publish(track string, frame []byte) error
    // Close releases the engine. It may block or never return.
    Close()
}

// Unsubscriber is implemented by engines that can stop a single track.
type Unsubscriber interface {
    Unsubscribe(track string) error
}

// MediaSource is implemented by engines that surface received media. The
// channel is closed when the engine stops delivering.
type MediaSource interface {
    Media() <-chan Media
}

// Failer is implemented by engines that can fail asynchronously after a
// successful call, for example when the relay drops the connection.
type Failer interface {
    Done() <-chan struct{}
    Err() error
}

// Media is one received frame.
type Media struct {
    Track string
    Seq   uint64
    Data  []byte
    At    time.Time
}

// Factory constructs a fresh, unconnected engine. It may fail or panic.
type Factory func() (Engine, error)
