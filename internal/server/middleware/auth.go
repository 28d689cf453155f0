package middleware

import (
	"bytes"
	"crypto/subtle"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/retropick/internal/crypto"
)

// SignatureHeader carries an EIP-191 signature over the request body.
const SignatureHeader = "X-Signature"

const maxSignedBody = 64 << 10

// Auth admits a request that either carries SignatureHeader signed by one of
// authorized, or presents apiKey as a Bearer token or X-API-Key. With
// neither configured the API is open.
func Auth(apiKey string, authorized []common.Address) func(http.Handler) http.Handler {
	open := apiKey == "" && len(authorized) == 0

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open {
				next.ServeHTTP(w, r)
				return
			}
			if sig := r.Header.Get(SignatureHeader); sig != "" && len(authorized) > 0 {
				body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
				if err != nil {
					deny(w, http.StatusUnauthorized, "unreadable body")
					return
				}
				if _, err := crypto.VerifyTrigger(body, sig, authorized); err != nil {
					deny(w, http.StatusUnauthorized, "invalid signature")
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
				next.ServeHTTP(w, r)
				return
			}

			if msg := checkAPIKey(r, apiKey); msg != "" {
				deny(w, http.StatusUnauthorized, msg)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// checkAPIKey returns the rejection reason, or "" when the key matches.
func checkAPIKey(r *http.Request, apiKey string) string {
	if apiKey == "" {
		return "signature required"
	}
	token := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if scheme, rest, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		token = strings.TrimSpace(rest)
	}
	switch {
	case token == "":
		return "missing authentication token"
	case subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1:
		return "invalid authentication token"
	}
	return ""
}
