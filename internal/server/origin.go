// Package server checks WebSocket upgrade requests against the configured
// origin allow-list.
package server

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const wildcardOrigin = "*"

// originList is the parsed form of Config.AllowedOrigins.
type originList struct {
	any      bool
	ordered  []string
	allowed  map[string]struct{}
	rejected []string
}

// parseOrigins canonicalizes the configured origins. Blank entries are
// skipped; entries without a scheme and host are reported in rejected.
func parseOrigins(origins []string) originList {
	list := originList{allowed: make(map[string]struct{}, len(origins))}
	for _, raw := range origins {
		entry := strings.TrimSpace(raw)
		switch {
		case entry == "":
			continue
		case entry == wildcardOrigin:
			list.any = true
			continue
		}

		origin, ok := canonicalOrigin(entry)
		if !ok {
			list.rejected = append(list.rejected, raw)
			continue
		}
		if _, dup := list.allowed[origin]; dup {
			continue
		}
		list.allowed[origin] = struct{}{}
		list.ordered = append(list.ordered, origin)
	}
	return list
}

// canonicalOrigin reduces an origin to lower-case scheme://host.
func canonicalOrigin(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

func (l originList) allows(header string) bool {
	origin, ok := canonicalOrigin(header)
	if !ok {
		return false
	}
	if l.any {
		return true
	}
	_, found := l.allowed[origin]
	return found
}

// isOriginAllowed reports whether r carries an Origin on the active allow-list.
// Requests without an Origin header are refused.
func isOriginAllowed(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		return false
	}

	configMu.RLock()
	defer configMu.RUnlock()
	return activeOrigins.allows(header)
}

// originGuard is the upgrader's CheckOrigin, logging every refusal.
type originGuard struct {
	logger *zap.Logger
}

func (g originGuard) check(r *http.Request) bool {
	if isOriginAllowed(r) {
		return true
	}
	g.logger.Warn("blocked websocket connection from disallowed origin",
		zap.String("origin", r.Header.Get("Origin")),
		zap.String("remote_addr", r.RemoteAddr))
	return false
}
