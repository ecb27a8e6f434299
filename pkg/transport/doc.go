// Package transport defines the link interfaces an engine uses to reach a
// media relay, plus implementations over QUIC (quic), TCP (tcp) and
// in-process pipes (mem).
//
// Key concepts:
// - Transport: dials/listens for Sessions of a specific Kind
// - Session: a connection to a relay carrying one control stream
// - Stream: a Send/Recv channel of length-prefixed frames
package transport
