package types

import "encoding/json"

// ChatRequest is the inbound chat payload. Messages stays raw so the handler
// can tell a missing field apart from an empty or malformed array.
type ChatRequest struct {
	Messages json.RawMessage `json:"messages"`
	Stream   bool            `json:"stream,omitempty"`
}

// IncomingMessage is one client-supplied conversation turn. Content is left
// untyped because clients send whatever they like; the formatter coerces it.
type IncomingMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type ChatResponse struct {
	Content   string `json:"content"`
	MCEResult any    `json:"mceResult"`
	Model     string `json:"model"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// LoginRequest is the credentials fallback sign-in payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	Email         string `json:"email,omitempty"`
	Name          string `json:"name,omitempty"`
	Provider      string `json:"provider,omitempty"`
}
