// Package dialect implements the bidirectional, lossy-aware transforms
// between the public OpenAI-compatible wire schema and the Azure OpenAI and
// Gemini v1beta dialects, for chat completions, the responses API, and
// embeddings, including both SSE streaming regimes.
//
// Every wire struct here is a direct encoding/json mirror of the dialect it
// represents — no generated client SDK is used, so that partial
// (de)serialization and field-level loss tracking stay exact.
package dialect

import "encoding/json"

// Loss records one field the public schema expressed that the target
// dialect could not carry, per §4.5 rule 7.
type Loss struct {
	Field  string
	Reason string
}

// ── Public (OpenAI-shaped) chat completions ─────────────────────────────────

// Message is one entry in the public "messages" array. Content may be a
// plain string or a list of parts; both are modeled via json.RawMessage and
// decoded on demand by the dialect translators.
type Message struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// ContentPart is one element of a multi-part message content array.
type ContentPart struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	ImageURL   *ImageURL   `json:"image_url,omitempty"`
	InputAudio *InputAudio `json:"input_audio,omitempty"`
	File       *FilePart   `json:"file,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type InputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type FilePart struct {
	FileID   string `json:"file_id,omitempty"`
	Filename string `json:"filename,omitempty"`
	FileData string `json:"file_data,omitempty"`
}

// ToolCall is an assistant message's function/tool invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolCallFunc `json:"function"`
}

type ToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is one entry of the public "tools" array.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatRequest is the public POST /v1/chat/completions body.
type ChatRequest struct {
	Model           string          `json:"model"`
	Messages        []Message       `json:"messages"`
	Stream          bool            `json:"stream,omitempty"`
	StreamOptions   *StreamOptions  `json:"stream_options,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"top_p,omitempty"`
	MaxTokens       *int            `json:"max_tokens,omitempty"`
	Stop            json.RawMessage `json:"stop,omitempty"`
	Tools           []Tool          `json:"tools,omitempty"`
	ToolChoice      json.RawMessage `json:"tool_choice,omitempty"`
	ResponseFormat  json.RawMessage `json:"response_format,omitempty"`
	Modalities      []string        `json:"modalities,omitempty"`
	N               *int            `json:"n,omitempty"`
	LogProbs        *bool           `json:"logprobs,omitempty"`
	TopLogProbs     *int            `json:"top_logprobs,omitempty"`
	Prediction      json.RawMessage `json:"prediction,omitempty"`
	SafetyIdentifier string         `json:"safety_identifier,omitempty"`
}

type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// ResponseFormat decodes ChatRequest.ResponseFormat on demand.
type ResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *JSONSchemaSpec `json:"json_schema,omitempty"`
}

type JSONSchemaSpec struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Strict bool            `json:"strict,omitempty"`
}

// Choice is one entry of a ChatResponse's "choices" array.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage is the public token roll-up.
type Usage struct {
	PromptTokens            int64                     `json:"prompt_tokens"`
	CompletionTokens         int64                     `json:"completion_tokens"`
	TotalTokens              int64                     `json:"total_tokens"`
	PromptTokensDetails      *PromptTokensDetails      `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails  *CompletionTokensDetails  `json:"completion_tokens_details,omitempty"`
}

type PromptTokensDetails struct {
	CachedTokens int64 `json:"cached_tokens,omitempty"`
}

type CompletionTokensDetails struct {
	ReasoningTokens int64 `json:"reasoning_tokens,omitempty"`
}

// ChatResponse is the public POST /v1/chat/completions response body.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// ── Public embeddings ────────────────────────────────────────────────────

type EmbeddingsRequest struct {
	Model          string          `json:"model"`
	Input          json.RawMessage `json:"input"`
	EncodingFormat string          `json:"encoding_format,omitempty"`
}

type EmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
	Object    string    `json:"object"`
}

type EmbeddingsResponse struct {
	Object string          `json:"object"`
	Model  string          `json:"model"`
	Data   []EmbeddingData `json:"data"`
	Usage  Usage           `json:"usage"`
}
