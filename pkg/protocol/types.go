package protocol

// Message types carried in Header.Type.
//
// 0x01..0x0f  controller -> host commands
// 0x10..0x1f  host -> controller state snapshots (0x10 + state kind)
// 0x20..0x2f  engine <-> relay control and media
const (
    MsgUnknown uint8 = 0x00

    MsgConnect     uint8 = 0x01
    MsgSubscribe   uint8 = 0x02
    MsgUnsubscribe uint8 = 0x03
    MsgPublish     uint8 = 0x04
    MsgClose       uint8 = 0x05

    MsgSnapshot uint8 = 0x10

    MsgSetup         uint8 = 0x20
    MsgTrackSub      uint8 = 0x21
    MsgTrackUnsub    uint8 = 0x22
    MsgFrame         uint8 = 0x23
    MsgGoAway        uint8 = 0x2f
)

// IsCommand reports whether t is a controller command type.
func IsCommand(t uint8) bool { return t >= MsgConnect && t <= MsgClose }

// IsSnapshot reports whether t is a state snapshot type.
func IsSnapshot(t uint8) bool { return t >= MsgSnapshot && t < MsgSnapshot+0x10 }

// Flags bitmask (uint32)
const (
    FlagControl  uint32 = 1 << 0 // must not be queued behind media
    FlagTerminal uint32 = 1 << 1 // last message of the session
)

// ContentType is optional hint for payload decoding.
const (
    ContentUnknown = "application/octet-stream"
    ContentCBOR    = "application/cbor"
    ContentJSON    = "application/json"
    ContentProto   = "application/x-protobuf"
)
