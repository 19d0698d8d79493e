package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"mce-assistant-backend/internal/store"
	"mce-assistant-backend/internal/types"
)

// POST /api/auth/login
// Credentials fallback: the admin pair or an authorized email + admin password.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req types.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	email := strings.TrimSpace(req.Email)
	name, ok := s.gate.CheckCredentials(email, req.Password)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if !s.gate.SignInAllowed(email) {
		s.writeError(w, http.StatusUnauthorized, "Email is not on the allow list")
		return
	}
	sid := uuid.NewString()
	s.saveSession(sid, store.SessionUser{Email: email, Name: name, Provider: "credentials"})
	SetSessionCookie(w, s.gate.SignSession(sid))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(types.SessionResponse{
		Authenticated: true, Email: email, Name: name, Provider: "credentials",
	})
}

// POST /api/auth/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sid, _, ok := s.sessionUser(r); ok {
		s.store.DeleteSession(sid)
		if s.databaseStore != nil {
			_ = s.databaseStore.DeleteSession(sid)
		}
	}
	ClearSessionCookie(w)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// GET /api/auth/status
func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, u, ok := s.sessionUser(r); ok {
		_ = json.NewEncoder(w).Encode(types.SessionResponse{
			Authenticated: true, Email: u.Email, Name: u.Name, Provider: u.Provider,
		})
		return
	}
	_ = json.NewEncoder(w).Encode(types.SessionResponse{Authenticated: false})
}

// GET /api/auth/{provider}
// Initiates the OAuth flow and returns { url } for the browser to follow.
func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	oCfg, ok := s.oauth[provider]
	if !ok {
		s.writeError(w, http.StatusBadRequest, "Unknown or unconfigured provider")
		return
	}
	sid := uuid.NewString()
	state := randomState()
	s.store.SetOAuthState(sid, state)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"url": oCfg.AuthCodeURL(state)})
}

// GET /api/auth/{provider}/callback?code=...&state=...
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	oCfg, ok := s.oauth[provider]
	if !ok {
		s.writeError(w, http.StatusBadRequest, "Unknown or unconfigured provider")
		return
	}
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		s.writeError(w, http.StatusBadRequest, "Missing state or code")
		return
	}
	sid := s.store.GetSessionByOAuthState(state)
	if sid == "" || s.store.GetOAuthState(sid) != state {
		s.writeError(w, http.StatusBadRequest, "Invalid oauth state")
		return
	}

	ctx := r.Context()
	tok, err := oCfg.Exchange(ctx, code)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "Token exchange failed")
		return
	}

	email, name, err := fetchIdentity(ctx, provider, oCfg, tok)
	if err != nil || email == "" {
		s.writeError(w, http.StatusBadGateway, "Failed to fetch user identity")
		return
	}
	if !s.gate.SignInAllowed(email) {
		s.writeError(w, http.StatusUnauthorized, "Email is not on the allow list")
		return
	}

	s.saveSession(sid, store.SessionUser{Email: email, Name: name, Provider: provider})
	s.store.ClearOAuthState(sid)
	SetSessionCookie(w, s.gate.SignSession(sid))
	http.Redirect(w, r, fmt.Sprintf("%s?auth=success", s.cfg.FrontendURL), http.StatusFound)
}

// saveSession writes the session to memory and, when configured, Postgres.
func (s *Server) saveSession(sid string, u store.SessionUser) {
	s.store.PutSession(sid, u)
	if s.databaseStore != nil {
		if err := s.databaseStore.PutSession(sid, u); err != nil {
			// Memory copy still serves this process; persistence is best-effort.
			log.Println("warning: failed to persist session:", err)
		}
	}
}

func randomState() string {
	var b [24]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// fetchIdentity asks the provider's userinfo endpoint for email and name.
func fetchIdentity(ctx context.Context, provider string, oCfg *oauth2.Config, tok *oauth2.Token) (string, string, error) {
	client := oCfg.Client(ctx, tok)
	switch provider {
	case "google":
		var body struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := getJSON(client, "https://www.googleapis.com/oauth2/v2/userinfo", &body); err != nil {
			return "", "", err
		}
		return strings.TrimSpace(body.Email), strings.TrimSpace(body.Name), nil
	case "github":
		var user struct {
			Login string `json:"login"`
			Name  string `json:"name"`
			Email string `json:"email"`
		}
		if err := getJSON(client, "https://api.github.com/user", &user); err != nil {
			return "", "", err
		}
		email := strings.TrimSpace(user.Email)
		if email == "" {
			// The public profile may hide the address; ask the emails endpoint.
			var emails []struct {
				Email   string `json:"email"`
				Primary bool   `json:"primary"`
			}
			if err := getJSON(client, "https://api.github.com/user/emails", &emails); err == nil {
				for _, e := range emails {
					if e.Primary {
						email = e.Email
						break
					}
				}
				if email == "" && len(emails) > 0 {
					email = emails[0].Email
				}
			}
		}
		name := strings.TrimSpace(user.Name)
		if name == "" {
			name = user.Login
		}
		return email, name, nil
	default:
		return "", "", fmt.Errorf("unknown provider: %s", provider)
	}
}

func getJSON(client *http.Client, url string, out any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
