package statusws

import (
    "context"
    "encoding/json"
    "errors"
    "net"
    "net/http"
    "time"

    "github.com/gorilla/websocket"
    "go.uber.org/zap"
)

// Server exposes the broadcaster at /ws and the session list at /sessions.
type Server struct {
    b        *Broadcaster
    log      *zap.Logger
    upgrader websocket.Upgrader
}

func NewServer(b *Broadcaster, log *zap.Logger) *Server {
    if log == nil { log = zap.L() }
    return &Server{b: b, log: log}
}

func (s *Server) Handler() http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc("/ws", s.handleWS)
    mux.HandleFunc("/sessions", s.handleSessions)
    return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
    conn, err := s.upgrader.Upgrade(w, r, nil)
    if err != nil {
        s.log.Debug("status upgrade failed", zap.Error(err))
        return
    }
    s.log.Debug("status client connected", zap.String("remote", r.RemoteAddr))
    c := s.b.AddClient(conn)

    // Clients are read-only; reading only detects disconnects.
    go func() {
        defer s.b.RemoveClient(c)
        for {
            if _, _, err := conn.ReadMessage(); err != nil { return }
        }
    }()
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        return
    }
    w.Header().Set("Content-Type", "application/json")
    if err := json.NewEncoder(w).Encode(s.b.store.List()); err != nil {
        s.log.Debug("sessions encode failed", zap.Error(err))
    }
}

// Serve runs the status server on l until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
    srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
    errc := make(chan error, 1)
    go func() { errc <- srv.Serve(l) }()
    s.log.Info("status server listening", zap.Stringer("addr", l.Addr()))
    select {
    case err := <-errc:
        return err
    case <-ctx.Done():
    }
    shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    s.b.Close()
    err := srv.Shutdown(shutCtx)
    if e := <-errc; !errors.Is(e, http.ErrServerClosed) && err == nil { err = e }
    return err
}
