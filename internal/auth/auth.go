// Package auth implements the authorization predicate evaluated before the
// chat orchestration: "is this request carrying a valid session OR a valid
// shared API key". Sign-in itself is delegated to OAuth providers or the
// admin credentials fallback; this package only decides who gets in.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"mce-assistant-backend/internal/config"
)

type Gate struct {
	secret           []byte
	sharedKey        string
	adminEmail       string
	adminPassword    string
	authorizedEmails []string
	allowedEmails    []string
	allowedDomains   []string
}

func NewGate(cfg config.Config) *Gate {
	return &Gate{
		secret:           []byte(cfg.SessionSecret),
		sharedKey:        cfg.APISharedKey,
		adminEmail:       cfg.AdminEmail,
		adminPassword:    cfg.AdminPassword,
		authorizedEmails: cfg.AuthorizedEmails,
		allowedEmails:    cfg.AllowedEmails,
		allowedDomains:   cfg.AllowedDomains,
	}
}

// Enabled reports whether access control is configured at all. With no
// allow-lists, no admin credentials, and no shared key, the chat endpoint is
// public and the gate stays out of the way.
func (g *Gate) Enabled() bool {
	return len(g.allowedEmails) > 0 ||
		len(g.allowedDomains) > 0 ||
		len(g.authorizedEmails) > 0 ||
		g.adminEmail != "" ||
		g.sharedKey != ""
}

// SignInAllowed applies the ALLOWED_EMAILS / ALLOWED_DOMAINS restriction to a
// freshly authenticated identity. Empty lists allow everyone.
func (g *Gate) SignInAllowed(email string) bool {
	if len(g.allowedEmails) == 0 && len(g.allowedDomains) == 0 {
		return true
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, e := range g.allowedEmails {
		if strings.ToLower(e) == email {
			return true
		}
	}
	if at := strings.LastIndex(email, "@"); at >= 0 {
		domain := email[at+1:]
		for _, d := range g.allowedDomains {
			if strings.ToLower(d) == domain {
				return true
			}
		}
	}
	return false
}

// CheckCredentials validates the email/password fallback: the admin pair, or
// any address on AUTHORIZED_EMAILS combined with the admin password. Returns
// the display name to attach to the session.
func (g *Gate) CheckCredentials(email, password string) (string, bool) {
	if g.adminPassword == "" || password != g.adminPassword {
		return "", false
	}
	if g.adminEmail != "" && email == g.adminEmail {
		return "Admin User", true
	}
	for _, a := range g.authorizedEmails {
		if a == email {
			name := email
			if at := strings.Index(email, "@"); at > 0 {
				name = email[:at]
			}
			return name, true
		}
	}
	return "", false
}

// ValidAPIKey checks the shared-secret header in constant time.
func (g *Gate) ValidAPIKey(key string) bool {
	if g.sharedKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(g.sharedKey)) == 1
}

// SignSession produces the cookie value "<sid>.<hmac>" for a session ID.
func (g *Gate) SignSession(sid string) string {
	return sid + "." + g.mac(sid)
}

// ParseSession verifies a cookie value and returns the session ID.
func (g *Gate) ParseSession(value string) (string, bool) {
	i := strings.LastIndex(value, ".")
	if i <= 0 {
		return "", false
	}
	sid, sig := value[:i], value[i+1:]
	if hmac.Equal([]byte(sig), []byte(g.mac(sid))) {
		return sid, true
	}
	return "", false
}

func (g *Gate) mac(sid string) string {
	h := hmac.New(sha256.New, g.secret)
	h.Write([]byte(sid))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
