// Package tokens estimates request/response token usage as a character-length
// proxy, cheap enough to run on every admission decision.
package tokens

import "encoding/json"

type message struct {
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []message `json:"messages"`
}

type choice struct {
	Message message `json:"message"`
}

type chatResponse struct {
	Choices []choice `json:"choices"`
}

// InputTokens sums len(content) over payload.messages[*].content. Missing or
// malformed fields count as zero rather than failing the admission path.
func InputTokens(payload []byte) int {
	var req chatRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return 0
	}
	total := 0
	for _, m := range req.Messages {
		total += len(m.Content)
	}
	return total
}

// OutputTokens sums len(content) over response.choices[*].message.content.
func OutputTokens(response []byte) int {
	var resp chatResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return 0
	}
	total := 0
	for _, c := range resp.Choices {
		total += len(c.Message.Content)
	}
	return total
}
