package authapi

import (
	"log/slog"
	"net/http"
	"strings"
)

// Audit results.
const (
	resultSuccess = "success"
	resultFail    = "fail"
)

// audit records an auth event as a structured log line and a counter increment.
// attrs must never carry codes, reset tokens, passwords or bearer tokens.
func (h *Handler) audit(r *http.Request, event, result string, attrs ...any) {
	h.metrics.AuthEvent(event, result)

	level := slog.LevelInfo
	if result != resultSuccess {
		level = slog.LevelWarn
	}
	base := []any{"result", result}
	if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
		base = append(base, "ip", ip.String())
	}
	if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
		base = append(base, "user_agent", ua)
	}
	h.log.Log(r.Context(), level, event, append(base, attrs...)...)
}
