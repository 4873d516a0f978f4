package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type contextKey string

const clientIDKey contextKey = "client_id"

// ClientIDHeader lets a caller behind a shared address identify itself.
const ClientIDHeader = "X-Client-ID"

// ClientID resolves who is calling and stores it in the request context:
// the X-Client-ID header when present, otherwise the remote host.
func ClientID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(ClientIDHeader))
		if id == "" {
			id = remoteHost(r.RemoteAddr)
		}
		next.ServeHTTP(w, r.WithContext(SetClientID(r.Context(), id)))
	})
}

func SetClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientIDKey, id)
}

func GetClientID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(clientIDKey).(string)
	return id, ok && id != ""
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
