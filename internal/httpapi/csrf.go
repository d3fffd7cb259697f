package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// CSRF implements the double-submit token gate. Tokens are "raw.mac" where
// mac is HMAC-SHA256 of raw under the server secret, so the server validates
// without storing issued tokens.
type CSRF struct {
	secret     []byte
	cookieName string
	headerName string
}

func NewCSRF(secret, cookieName, headerName string) *CSRF {
	return &CSRF{
		secret:     []byte(secret),
		cookieName: cookieName,
		headerName: headerName,
	}
}

func (c *CSRF) IssueToken() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	r := hex.EncodeToString(raw)
	return r + "." + c.sign(r), nil
}

func (c *CSRF) sign(raw string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *CSRF) valid(token string) bool {
	raw, mac, ok := strings.Cut(token, ".")
	if !ok || raw == "" {
		return false
	}
	return hmac.Equal([]byte(mac), []byte(c.sign(raw)))
}

// SetCookie issues a fresh token and attaches it to the response.
func (c *CSRF) SetCookie(w http.ResponseWriter) (string, error) {
	token, err := c.IssueToken()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

// Middleware rejects state-changing requests whose header token is missing,
// differs from the cookie token, or fails validation. Safe methods pass
// through untouched.
func (c *CSRF) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
			cookie, err := r.Cookie(c.cookieName)
			if err != nil || cookie.Value == "" {
				respondError(w, http.StatusForbidden, "Invalid CSRF token")
				return
			}
			header := r.Header.Get(c.headerName)
			if header == "" || !hmac.Equal([]byte(header), []byte(cookie.Value)) || !c.valid(header) {
				respondError(w, http.StatusForbidden, "Invalid CSRF token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
