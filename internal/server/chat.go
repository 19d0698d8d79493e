package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"mce-assistant-backend/internal/chat"
	"mce-assistant-backend/internal/intent"
	"mce-assistant-backend/internal/mce"
	"mce-assistant-backend/internal/types"
)

// handleChat runs one chat turn: validate, relay to the model, scan the reply
// for email-creation intent, maybe call MCE, respond. MCE failures never
// abort the turn; they ride along as mceResult.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	var incoming []types.IncomingMessage
	if len(req.Messages) == 0 || json.Unmarshal(req.Messages, &incoming) != nil || len(incoming) == 0 {
		s.writeError(w, http.StatusBadRequest, "Messages array is required")
		return
	}
	if s.cfg.OpenAIAPIKey == "" {
		s.writeErrorDetails(w, http.StatusInternalServerError, "OpenAI API key not configured", "OPENAI_API_KEY is not set")
		return
	}

	msgs := chat.NormalizeMessages(incoming)
	if req.Stream {
		s.streamChat(w, r, msgs)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.UpstreamTimeout)
	defer cancel()

	reply, model, err := s.relay.Complete(ctx, msgs)
	if err != nil {
		log.Println("[chat] model relay failed:", err)
		s.writeErrorDetails(w, upstreamStatus(err), "Model API request failed", err.Error())
		return
	}

	resp := types.ChatResponse{Content: reply, Model: model}
	if em := s.detector.Detect(reply); em != nil {
		resp.MCEResult = s.createEmail(ctx, *em)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// streamChat relays the turn as server-sent events: one {model} event, {text}
// events as fragments arrive, then a {mceResult} event when intent was
// detected, terminated by [DONE]. Intent extraction runs only on the fully
// concatenated buffer after the upstream stream ends.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, msgs []openai.ChatCompletionMessage) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.UpstreamTimeout)
	defer cancel()

	model, frags, err := s.relay.Stream(ctx, msgs)
	if err != nil {
		log.Println("[chat] stream init failed:", err)
		s.writeErrorDetails(w, upstreamStatus(err), "Model API request failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	writeSSE(w, flusher, map[string]string{"model": model})

	var builder strings.Builder
	for f := range frags {
		if f.Err != nil {
			// Already-delivered fragments stay valid; report and terminate.
			log.Println("[chat] stream transport failed:", f.Err)
			writeSSE(w, flusher, map[string]string{"error": "Model stream failed"})
			writeDone(w, flusher)
			return
		}
		builder.WriteString(f.Text)
		writeSSE(w, flusher, map[string]string{"text": f.Text})
	}

	if em := s.detector.Detect(builder.String()); em != nil {
		writeSSE(w, flusher, map[string]any{"mceResult": s.createEmail(ctx, *em)})
	}
	writeDone(w, flusher)
}

// createEmail issues the downstream creation call and folds any failure into
// the response payload shape the frontend expects. The call runs on its own
// deadline, detached from the client request: once creation is issued it
// completes even if the client goes away or the turn's budget is spent.
func (s *Server) createEmail(ctx context.Context, em intent.EmailIntent) map[string]any {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.UpstreamTimeout)
	defer cancel()
	log.Printf("[mce] email intent detected: name=%q subject=%q", em.Name, em.Subject)
	data, err := s.mce.BuildEmail(ctx, em)
	if err == nil {
		return data
	}
	log.Println("[mce] build_email failed:", err)
	var httpErr *mce.HTTPError
	switch {
	case errors.Is(err, mce.ErrNotConfigured):
		return map[string]any{"error": "MCE configuration missing", "details": "MCE_API_KEY not configured"}
	case errors.As(err, &httpErr):
		return map[string]any{"error": fmt.Sprintf("MCE server error: %d", httpErr.Status), "details": httpErr.Body}
	default:
		return map[string]any{"error": "MCE connection failed", "details": err.Error()}
	}
}

func upstreamStatus(err error) int {
	var ue *chat.UpstreamError
	if errors.As(err, &ue) && ue.Kind == chat.UpstreamRateLimited {
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
	flusher.Flush()
}

func writeDone(w http.ResponseWriter, flusher http.Flusher) {
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
