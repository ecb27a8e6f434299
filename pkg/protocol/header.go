package protocol

import (
    "encoding/binary"
    "errors"
)

// Fixed header layout (32 bytes). All integer fields are little-endian.
//
//  0  ..1   Magic    'W''P' (0x5057)
//  2        Version  u8
//  3        Type     u8
//  4  ..7   Flags    u32
//  8  ..15  Sequence u64
//  16 ..19  PayloadLen u32
//  20 ..31  Reserved
const (
    headerSize = 32
    magicWord  = uint16(0x5057)

    // Version is the current envelope version.
    Version uint8 = 1
)

var (
    ErrShortHeader = errors.New("short header")
    ErrBadMagic    = errors.New("bad magic")
    ErrBadVersion  = errors.New("unsupported envelope version")
)

// Header describes metadata for an envelope.
type Header struct {
    Version    uint8
    Type       uint8
    Flags      uint32
    Sequence   uint64
    PayloadLen uint32
}

// MarshalBinary encodes header to a 32-byte buffer.
func (h *Header) MarshalBinary() ([]byte, error) {
    buf := make([]byte, headerSize)
    h.put(buf)
    return buf, nil
}

func (h *Header) put(buf []byte) {
    binary.LittleEndian.PutUint16(buf[0:2], magicWord)
    buf[2] = h.Version
    buf[3] = h.Type
    binary.LittleEndian.PutUint32(buf[4:8], h.Flags)
    binary.LittleEndian.PutUint64(buf[8:16], h.Sequence)
    binary.LittleEndian.PutUint32(buf[16:20], h.PayloadLen)
}

// UnmarshalBinary decodes header from a 32-byte buffer.
func (h *Header) UnmarshalBinary(buf []byte) error {
    if len(buf) < headerSize {
        return ErrShortHeader
    }
    if binary.LittleEndian.Uint16(buf[0:2]) != magicWord {
        return ErrBadMagic
    }
    h.Version = buf[2]
    if h.Version == 0 || h.Version > Version {
        return ErrBadVersion
    }
    h.Type = buf[3]
    h.Flags = binary.LittleEndian.Uint32(buf[4:8])
    h.Sequence = binary.LittleEndian.Uint64(buf[8:16])
    h.PayloadLen = binary.LittleEndian.Uint32(buf[16:20])
    return nil
}
