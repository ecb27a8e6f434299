package quicengine

import (
    "fmt"
    "net"
    "net/url"

    "github.com/kixelated/warp/pkg/transport"
)

const defaultPort = "443"

// target resolves a session URL to a transport address and relay path.
// http is upgraded to https; mem addresses are the bare host.
func target(kind transport.Kind, raw string) (addr, path string, err error) {
    u, err := url.Parse(raw)
    if err != nil { return "", "", fmt.Errorf("parse url: %w", err) }
    switch u.Scheme {
    case "http":
        u.Scheme = "https"
    case "https", "moqt":
    default:
        return "", "", fmt.Errorf("unsupported scheme %q", u.Scheme)
    }
    if u.Host == "" { return "", "", fmt.Errorf("url %q has no host", raw) }
    path = u.EscapedPath()
    if kind == transport.KindMem { return u.Host, path, nil }
    host, port := u.Hostname(), u.Port()
    if port == "" { port = defaultPort }
    return net.JoinHostPort(host, port), path, nil
}
