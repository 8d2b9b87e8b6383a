package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// originPolicy is the CheckOrigin of the upgrader. Origins are compared as
// lower-cased scheme://host, so paths and case in the configuration do
// not matter. A "*" entry admits every handshake, including those that
// carry no Origin header; otherwise such handshakes are refused.
type originPolicy struct {
	any   bool
	hosts map[string]bool
	log   zerolog.Logger
}

func newOriginPolicy(origins []string, log zerolog.Logger) *originPolicy {
	p := &originPolicy{hosts: make(map[string]bool), log: log}
	for _, o := range origins {
		switch o = strings.TrimSpace(o); {
		case o == "":
		case o == "*":
			p.any = true
		default:
			key, ok := originKey(o)
			if !ok {
				log.Warn().Str("origin", o).Msg("ignoring invalid allowed origin")
				continue
			}
			p.hosts[key] = true
		}
	}
	return p
}

func originKey(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}

func (p *originPolicy) check(r *http.Request) bool {
	if p.any {
		return true
	}
	origin := r.Header.Get("Origin")
	if key, ok := originKey(origin); ok && p.hosts[key] {
		return true
	}
	p.log.Warn().Str("origin", origin).Str("peer", r.RemoteAddr).Msg("websocket handshake from disallowed origin")
	return false
}
