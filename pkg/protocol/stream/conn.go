// Package stream sends and receives protocol envelopes over a byte stream.
package stream

import (
    "bufio"
    "io"
    "net"
    "sync"

    "github.com/kixelated/warp/pkg/protocol"
)

// Conn wraps an io.ReadWriter to send/receive protocol.Envelope frames.
// One writer goroutine and one reader goroutine may use it concurrently.
type Conn struct {
    rw  io.ReadWriter
    br  *bufio.Reader
    wmu sync.Mutex
    bw  *bufio.Writer
}

func New(rw io.ReadWriter) *Conn {
    return &Conn{rw: rw, br: bufio.NewReader(rw), bw: bufio.NewWriter(rw)}
}

func NewNetConn(c net.Conn) *Conn { return New(c) }

// Send writes e and flushes.
func (c *Conn) Send(e *protocol.Envelope) error {
    frame, err := e.EncodeFrame()
    if err != nil { return err }
    return c.WriteFrame(frame)
}

// WriteFrame writes a frame already produced by Envelope.EncodeFrame.
func (c *Conn) WriteFrame(frame []byte) error {
    c.wmu.Lock(); defer c.wmu.Unlock()
    if _, err := c.bw.Write(frame); err != nil { return err }
    return c.bw.Flush()
}

// Recv reads the next envelope into e.
func (c *Conn) Recv(e *protocol.Envelope) error {
    _, err := e.ReadFrom(c.br)
    return err
}

// Close closes the underlying stream when it is closable.
func (c *Conn) Close() error {
    if cl, ok := c.rw.(io.Closer); ok { return cl.Close() }
    return nil
}
