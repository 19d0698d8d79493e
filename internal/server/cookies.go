package server

import (
	"net/http"
	"time"

	"mce-assistant-backend/internal/store"
)

// CookieName is the name of the session cookie
const CookieName = "mce_session"

// SetSessionCookie sets the HTTP-only session cookie. The value is the
// HMAC-signed session ID produced by the auth gate.
func SetSessionCookie(w http.ResponseWriter, signedValue string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    signedValue,
		Path:     "/",
		MaxAge:   int(store.DefaultSessionTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   false, // set to true in production with HTTPS
	})
}

// ClearSessionCookie removes the session cookie
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   false,
	})
}

// GetSessionCookie reads the signed session value from the cookie
func GetSessionCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}
