package dialect

import "encoding/json"

// ── Public "responses" API ──────────────────────────────────────────────────
//
// The responses API is a thinner, non-chat-history surface: a single "input"
// (string or structured item list) replaces "messages", and the reply is a
// flat "output" item list rather than "choices". Internally it is translated
// by first folding it down to a ChatRequest/ChatResponse and reusing the
// chat-completions transforms, so responses-API support is a thin adapter
// over the chat path rather than a parallel implementation.

// ResponsesRequest is the public POST /v1/responses body.
type ResponsesRequest struct {
	Model           string          `json:"model"`
	Input           json.RawMessage `json:"input"`
	Instructions    string          `json:"instructions,omitempty"`
	Stream          bool            `json:"stream,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"top_p,omitempty"`
	MaxOutputTokens *int            `json:"max_output_tokens,omitempty"`
	Tools           []Tool          `json:"tools,omitempty"`
	ToolChoice      json.RawMessage `json:"tool_choice,omitempty"`
}

// ResponsesOutputItem is one entry of a ResponsesResponse's "output" array.
type ResponsesOutputItem struct {
	Type    string           `json:"type"` // "message" | "function_call"
	Role    string           `json:"role,omitempty"`
	Content []ResponsesPart  `json:"content,omitempty"`
	CallID  string           `json:"call_id,omitempty"`
	Name    string           `json:"name,omitempty"`
	Args    string           `json:"arguments,omitempty"`
}

type ResponsesPart struct {
	Type string `json:"type"` // "output_text"
	Text string `json:"text,omitempty"`
}

// ResponsesResponse is the public POST /v1/responses response body.
type ResponsesResponse struct {
	ID     string                 `json:"id"`
	Object string                 `json:"object"`
	Model  string                 `json:"model"`
	Output []ResponsesOutputItem  `json:"output"`
	Usage  Usage                  `json:"usage"`
}

// ToChatRequest folds a ResponsesRequest down to the chat-completions shape
// so it can flow through ToAzure/ToGemini unchanged.
func ToChatRequest(req ResponsesRequest) ChatRequest {
	var messages []Message
	if req.Instructions != "" {
		content, _ := json.Marshal(req.Instructions)
		messages = append(messages, Message{Role: "system", Content: content})
	}

	var userText string
	if json.Unmarshal(req.Input, &userText) != nil {
		// Structured input item list: each item becomes one message with its
		// text content and role (default "user"). Anything richer (image/file parts in the responses surface) is out of
		// scope for this thin adapter.
		var items []struct {
			Type    string `json:"type"`
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		if json.Unmarshal(req.Input, &items) == nil {
			for _, it := range items {
				role := it.Role
				if role == "" {
					role = "user"
				}
				content, _ := json.Marshal(it.Content)
				messages = append(messages, Message{Role: role, Content: content})
			}
		}
	} else {
		content, _ := json.Marshal(userText)
		messages = append(messages, Message{Role: "user", Content: content})
	}

	return ChatRequest{
		Model:       req.Model,
		Messages:    messages,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxOutputTokens,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
	}
}

// FromChatResponse lifts a ChatResponse back up to the responses-API output
// shape.
func FromChatResponse(resp ChatResponse) ResponsesResponse {
	out := ResponsesResponse{ID: resp.ID, Object: "response", Model: resp.Model, Usage: resp.Usage}
	for _, c := range resp.Choices {
		item := ResponsesOutputItem{Type: "message", Role: "assistant"}
		var text string
		if json.Unmarshal(c.Message.Content, &text) == nil && text != "" {
			item.Content = append(item.Content, ResponsesPart{Type: "output_text", Text: text})
		}
		out.Output = append(out.Output, item)
		for _, tc := range c.Message.ToolCalls {
			out.Output = append(out.Output, ResponsesOutputItem{
				Type:   "function_call",
				CallID: tc.ID,
				Name:   tc.Function.Name,
				Args:   tc.Function.Arguments,
			})
		}
	}
	return out
}
