package session

import "fmt"

// CommandKind is the discriminator of a Command.
type CommandKind uint8

const (
    CmdConnect CommandKind = iota + 1
    CmdSubscribe
    CmdUnsubscribe
    CmdPublish
    CmdClose
)

func (k CommandKind) String() string {
    switch k {
    case CmdConnect:
        return "connect"
    case CmdSubscribe:
        return "subscribe"
    case CmdUnsubscribe:
        return "unsubscribe"
    case CmdPublish:
        return "publish"
    case CmdClose:
        return "close"
    default:
        return "unknown"
    }
}

// Control reports whether the command steers the session rather than carrying
// media. Control commands are never queued behind media frames.
func (k CommandKind) Control() bool { return k != CmdPublish }

// Command is a request from a controller to its engine host.
type Command struct {
    Kind  CommandKind `json:"-"`
    URL   string      `json:"url,omitempty"`
    Track string      `json:"track,omitempty"`
    Frame []byte      `json:"frame,omitempty"`
}

func Connect(url string) Command     { return Command{Kind: CmdConnect, URL: url} }
func Subscribe(track string) Command { return Command{Kind: CmdSubscribe, Track: track} }
func Unsubscribe() Command           { return Command{Kind: CmdUnsubscribe} }
func Close() Command                 { return Command{Kind: CmdClose} }

// Publish copies frame so the caller may reuse its buffer.
func Publish(track string, frame []byte) Command {
    return Command{Kind: CmdPublish, Track: track, Frame: append([]byte(nil), frame...)}
}

func (c Command) String() string {
    switch c.Kind {
    case CmdConnect:
        return "connect{" + c.URL + "}"
    case CmdSubscribe:
        return "subscribe{" + c.Track + "}"
    case CmdPublish:
        return fmt.Sprintf("publish{%s %dB}", c.Track, len(c.Frame))
    default:
        return c.Kind.String()
    }
}
