package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/ride-coordination/internal/dispatch"
)

type wsSettings struct {
	queue        int
	writeTimeout time.Duration
}

// originChecker allows every origin when the list is empty.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// handleWS authenticates via the token query parameter, then keeps the
// connection registered under the caller's phone until it goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	p, err := s.auth.ParseToken(r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws_upgrade_failed", "user_id", p.ID, "error", err)
		return
	}

	sess := dispatch.NewWSSession(conn, s.ws.queue, s.ws.writeTimeout)
	s.registry.Connect(p.Phone, sess)
	defer func() {
		s.registry.Disconnect(sess)
		sess.Close()
	}()

	go func() {
		if err := sess.Run(r.Context()); err != nil {
			s.logger.Debug("ws_writer_stopped", "user_id", p.ID, "error", err)
		}
	}()
	_ = sess.ReadLoop()
}
