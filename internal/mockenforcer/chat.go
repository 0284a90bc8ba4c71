package mockenforcer

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cortexhub/apim-broker/internal/logging"
	"github.com/cortexhub/apim-broker/internal/tokens"
)

// ChatMessage mirrors the OpenAI-compatible message shape.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatCompletionResponse struct {
	ID      string                  `json:"id"`
	Object  string                  `json:"object"`
	Created int64                   `json:"created"`
	Model   string                  `json:"model"`
	Choices []chatCompletionChoice  `json:"choices"`
	Usage   usage                   `json:"usage"`
}

// Handler serves a non-streaming mock chat completion whose content is a
// fixed-length timestamp-plus-random-hex string,
// enforcing the four quotas via Enforcer first. Streaming (`stream: true`)
// is out of scope, per spec.md's Non-goals; such requests are served the
// same non-streaming shape.
func Handler(enforcer *Enforcer) http.HandlerFunc {
	log := logging.WithComponent("mockenforcer")

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		var req chatCompletionRequest
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				http.Error(w, "invalid JSON", http.StatusBadRequest)
				return
			}
		}

		requestTokens := tokens.InputTokens(body)
		denyReason, err := enforcer.CheckAndConsume(r.Context(), requestTokens)
		if err != nil {
			log.Error("enforcer check failed", "error", err)
			http.Error(w, "rate limiter unavailable", http.StatusInternalServerError)
			return
		}
		if denyReason != "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": denyReason})
			return
		}

		model := req.Model
		if model == "" {
			model = "gpt-4o"
		}

		resp := chatCompletionResponse{
			ID:      "chat_completions-" + randomHex(16),
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   model,
			Choices: []chatCompletionChoice{
				{
					Index:        0,
					Message:      ChatMessage{Role: "assistant", Content: time.Now().UTC().Format("2006-01-02 15:04:05.000000") + "-" + randomHex(16)},
					FinishReason: "stop",
				},
			},
			Usage: usage{PromptTokens: 15, CompletionTokens: 20, TotalTokens: 35},
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	}
}

func randomHex(n int) string {
	b := make([]byte, n/2)
	rand.Read(b)
	return hex.EncodeToString(b)
}
