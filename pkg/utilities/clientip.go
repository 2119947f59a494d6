package utilities

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the address of the client that sent r. X-Forwarded-For is
// read only when trustProxy is set, and then only its last entry, which is
// the one written by the proxy in front of the service.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			parts := strings.Split(fwd, ",")
			if ip := strings.TrimSpace(parts[len(parts)-1]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
