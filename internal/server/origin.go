package server

import "net/url"

type builtinOrigin struct {
	scheme  string
	host    string
	portAny bool
}

// Origins the panel is served from during local development and when the
// daemon fronts its own UI. Anything else must be configured explicitly.
var builtinOrigins = []builtinOrigin{
	{scheme: "http", host: "localhost", portAny: true},
	{scheme: "http", host: "127.0.0.1", portAny: true},
	{scheme: "https", host: "localhost", portAny: true},
	{scheme: "https", host: "127.0.0.1", portAny: true},
}

func isBuiltinOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	hostname := u.Hostname()
	port := u.Port()
	for _, b := range builtinOrigins {
		if u.Scheme != b.scheme {
			continue
		}
		if hostname != b.host {
			continue
		}
		if !b.portAny && port != "" {
			continue
		}
		return true
	}
	return false
}
