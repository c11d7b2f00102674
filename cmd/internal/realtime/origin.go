package realtime

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// originPolicy is the browser-origin allowlist of the websocket gateway.
//
// An entry matches either the full origin or, ignoring scheme and port, its host.
// A "*" entry allows every origin.
type originPolicy struct {
	required bool
	anyHost  bool
	origins  map[string]struct{}
	hosts    map[string]struct{}
}

func newOriginPolicy(required bool, allowed []string) originPolicy {
	p := originPolicy{
		required: required,
		origins:  make(map[string]struct{}, len(allowed)),
		hosts:    make(map[string]struct{}, len(allowed)),
	}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		switch a {
		case "":
			continue
		case "*":
			p.anyHost = true
			continue
		}
		p.origins[a] = struct{}{}
		if h := hostOf(a); h != "" {
			p.hosts[h] = struct{}{}
		}
	}
	return p
}

// check returns nil when a handshake carrying origin may proceed.
func (p originPolicy) check(origin string) error {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		if p.required {
			return errors.New("missing origin")
		}
		return nil
	}
	if p.anyHost {
		return nil
	}
	if _, ok := p.origins[origin]; ok {
		return nil
	}
	if _, ok := p.hosts[hostOf(origin)]; ok {
		return nil
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// acceptPatterns lists the allowed hosts, sorted, in the form websocket.Accept matches
// cross-origin requests against.
func (p originPolicy) acceptPatterns() []string {
	out := make([]string, 0, len(p.hosts))
	for h := range p.hosts {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// hostOf returns the lower-cased host of an origin URL or a bare host[:port].
func hostOf(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "//" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
