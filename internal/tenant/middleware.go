package tenant

import (
	"net"
	"net/http"
	"strings"
)

// Resolver resolves store identifiers from HTTP requests using either a
// header or the request subdomain.
type Resolver struct {
	HeaderName   string
	RootDomain   string
	DefaultStore string
}

// NewResolver returns a resolver configured with the provided header name,
// root domain and default store slug. If headerName is empty, "X-Store-ID"
// is used.
func NewResolver(headerName, rootDomain, defaultStore string) *Resolver {
	if headerName == "" {
		headerName = "X-Store-ID"
	}
	return &Resolver{
		HeaderName:   headerName,
		RootDomain:   strings.ToLower(strings.TrimSpace(rootDomain)),
		DefaultStore: strings.TrimSpace(defaultStore),
	}
}

// Middleware resolves the store from the request and injects it into the
// context passed downstream.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		storeID := r.Resolve(req)
		if storeID == "" {
			storeID = r.DefaultStore
		}
		if storeID != "" {
			req = req.WithContext(With(req.Context(), storeID))
		}
		next.ServeHTTP(w, req)
	})
}

// Resolve attempts to find the store identifier from the configured header
// or the request subdomain.
func (r *Resolver) Resolve(req *http.Request) string {
	if r == nil || req == nil {
		return ""
	}
	if storeID := strings.TrimSpace(req.Header.Get(r.HeaderName)); storeID != "" {
		return storeID
	}

	host := hostWithoutPort(req.Host)
	if host == "" {
		return ""
	}
	return strings.TrimSpace(r.subdomainFromHost(host))
}

func (r *Resolver) subdomainFromHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return ""
	}

	if r.RootDomain != "" {
		if host == r.RootDomain {
			return ""
		}
		suffix := "." + r.RootDomain
		if !strings.HasSuffix(host, suffix) {
			return ""
		}
		host = strings.TrimSuffix(host, suffix)
	}

	parts := strings.Split(host, ".")
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

func hostWithoutPort(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if strings.HasPrefix(hostport, "[") {
		if idx := strings.Index(hostport, "]"); idx != -1 {
			if host := hostport[1:idx]; host != "" {
				return host
			}
		}
	}
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	if idx := strings.Index(hostport, ":"); idx != -1 && strings.Count(hostport, ":") == 1 {
		return hostport[:idx]
	}
	return hostport
}
