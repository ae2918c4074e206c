// Package identity derives the two voter identity axes: the sticky
// voter token carried in a cookie, and the request's network address.
// Neither is authenticated; both are treated as opaque strings.
package identity

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// VoterCookie is the cookie carrying the voter token.
const VoterCookie = "voter_id"

// CookieMaxAge keeps the voter token for one year.
const CookieMaxAge = 365 * 24 * 60 * 60

// EnsureVoterToken returns the existing token when one was presented,
// or issues a fresh one. issuedNew tells the caller to set the cookie.
func EnsureVoterToken(existing string) (token string, issuedNew bool) {
	if existing != "" {
		return existing, false
	}
	return uuid.New().String(), true
}

// SetVoterCookie writes the voter token cookie on the response.
func SetVoterCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     VoterCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   CookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClientAddr returns the request's network address: the first entry of
// X-Forwarded-For when present, else the transport peer address.
func ClientAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if addr := strings.TrimSpace(first); addr != "" {
			return addr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
