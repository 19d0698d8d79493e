package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultModels is the fixed ordered fallback list tried when no override is
// configured and the cache is cold.
var DefaultModels = []string{
	"gpt-4o-mini",
	"gpt-4o",
	"gpt-3.5-turbo",
}

// UpstreamKind classifies model-API failures by the upstream HTTP status.
type UpstreamKind int

const (
	UpstreamGeneric UpstreamKind = iota
	UpstreamAuth
	UpstreamRateLimited
	UpstreamNotFound
)

type UpstreamError struct {
	Kind  UpstreamKind
	Model string
	Err   error
}

func (e *UpstreamError) Error() string {
	switch e.Kind {
	case UpstreamAuth:
		return fmt.Sprintf("model API rejected credentials (model %s): %v", e.Model, e.Err)
	case UpstreamRateLimited:
		return fmt.Sprintf("model API rate limited (model %s): %v", e.Model, e.Err)
	case UpstreamNotFound:
		return fmt.Sprintf("model %s not recognized by API: %v", e.Model, e.Err)
	default:
		return fmt.Sprintf("model API call failed (model %s): %v", e.Model, e.Err)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Fragment is one streamed chunk of reply text. A non-nil Err is terminal;
// fragments delivered before it remain valid.
type Fragment struct {
	Text string
	Err  error
}

// completionAPI is the slice of the OpenAI client the relay needs.
type completionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// Relay performs one completion call per chat turn, walking a fixed ordered
// candidate model list until one succeeds or all fail. It holds no state
// beyond the injected model cache.
type Relay struct {
	client       completionAPI
	cache        ModelCache
	override     string
	systemPrompt string
}

func NewRelay(client *openai.Client, cache ModelCache, modelOverride, systemPrompt string) *Relay {
	return &Relay{client: client, cache: cache, override: modelOverride, systemPrompt: systemPrompt}
}

// candidateModels builds the try-order: cached last-good model first, then the
// configured override, then the fixed defaults. Duplicates are dropped.
func (r *Relay) candidateModels(ctx context.Context) []string {
	out := make([]string, 0, len(DefaultModels)+2)
	seen := make(map[string]bool)
	add := func(m string) {
		if m != "" && !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	if r.cache != nil {
		if m, ok := r.cache.Get(ctx); ok {
			add(m)
		}
	}
	add(r.override)
	for _, m := range DefaultModels {
		add(m)
	}
	return out
}

// withSystemPrompt prepends the relay's system instruction to the turn.
func (r *Relay) withSystemPrompt(msgs []openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	if r.systemPrompt == "" {
		return msgs
	}
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: r.systemPrompt})
	return append(out, msgs...)
}

// Complete performs a non-streaming completion. Returns the reply text and
// the model identifier that produced it.
func (r *Relay) Complete(ctx context.Context, msgs []openai.ChatCompletionMessage) (string, string, error) {
	full := r.withSystemPrompt(msgs)
	var lastErr error
	for _, model := range r.candidateModels(ctx) {
		resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    model,
			Messages: full,
		})
		if err != nil {
			lastErr = r.classify(ctx, model, err)
			if abortFallback(lastErr) {
				return "", "", lastErr
			}
			log.Printf("[relay] model %s failed, trying next candidate: %v", model, err)
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = &UpstreamError{Kind: UpstreamGeneric, Model: model, Err: errors.New("no choices in response")}
			continue
		}
		if r.cache != nil {
			r.cache.Put(ctx, model)
		}
		return resp.Choices[0].Message.Content, model, nil
	}
	if lastErr == nil {
		lastErr = &UpstreamError{Kind: UpstreamGeneric, Err: errors.New("no candidate models")}
	}
	return "", "", lastErr
}

// Stream opens a streaming completion. The returned channel delivers reply
// fragments in arrival order and is closed after the terminal event; a
// mid-stream transport failure arrives as a final Fragment with Err set.
// Fallback across candidate models happens only before the first fragment.
func (r *Relay) Stream(ctx context.Context, msgs []openai.ChatCompletionMessage) (string, <-chan Fragment, error) {
	full := r.withSystemPrompt(msgs)
	var lastErr error
	for _, model := range r.candidateModels(ctx) {
		stream, err := r.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:    model,
			Messages: full,
			Stream:   true,
		})
		if err != nil {
			lastErr = r.classify(ctx, model, err)
			if abortFallback(lastErr) {
				return "", nil, lastErr
			}
			log.Printf("[relay] stream init with model %s failed, trying next candidate: %v", model, err)
			continue
		}
		if r.cache != nil {
			r.cache.Put(ctx, model)
		}
		out := make(chan Fragment)
		go func() {
			defer close(out)
			defer stream.Close()
			for {
				resp, err := stream.Recv()
				if errors.Is(err, io.EOF) {
					return
				}
				if err != nil {
					// Client gone: just abandon the upstream read.
					if ctx.Err() != nil {
						return
					}
					out <- Fragment{Err: r.classify(ctx, model, err)}
					return
				}
				if len(resp.Choices) == 0 {
					continue
				}
				if chunk := resp.Choices[0].Delta.Content; chunk != "" {
					out <- Fragment{Text: chunk}
				}
			}
		}()
		return model, out, nil
	}
	if lastErr == nil {
		lastErr = &UpstreamError{Kind: UpstreamGeneric, Err: errors.New("no candidate models")}
	}
	return "", nil, lastErr
}

// classify maps an upstream failure onto the relay taxonomy. A 404 also
// invalidates the cached model identifier.
func (r *Relay) classify(ctx context.Context, model string, err error) error {
	kind := UpstreamGeneric
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized:
			kind = UpstreamAuth
		case http.StatusTooManyRequests:
			kind = UpstreamRateLimited
		case http.StatusNotFound:
			kind = UpstreamNotFound
		}
	}
	if kind == UpstreamNotFound && r.cache != nil {
		r.cache.Invalidate(ctx)
	}
	return &UpstreamError{Kind: kind, Model: model, Err: err}
}

// abortFallback reports whether trying another model could help. Credential
// and throttling failures apply to the whole key, not the model.
func abortFallback(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind == UpstreamAuth || ue.Kind == UpstreamRateLimited
	}
	return false
}
