package dialect

import "encoding/json"

// GeminiContent is one entry of Gemini's "contents" array.
type GeminiContent struct {
	Role  string       `json:"role"` // "user" | "model"
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart is a tagged union over Gemini's part kinds; exactly one field
// is set per instance.
type GeminiPart struct {
	Text             string                `json:"text,omitempty"`
	InlineData       *GeminiBlob           `json:"inlineData,omitempty"`
	FileData         *GeminiFileData       `json:"fileData,omitempty"`
	FunctionCall     *GeminiFunctionCall   `json:"functionCall,omitempty"`
	FunctionResponse *GeminiFunctionResp   `json:"functionResponse,omitempty"`
}

type GeminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type GeminiFileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type GeminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type GeminiFunctionResp struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

// GeminiToolConfig carries the translated tool_choice (§4.5 rule 2).
type GeminiToolConfig struct {
	FunctionCallingConfig GeminiFunctionCallingConfig `json:"functionCallingConfig"`
}

type GeminiFunctionCallingConfig struct {
	Mode                 string   `json:"mode"` // NONE | AUTO | ANY
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

// GeminiGenerationConfig carries stop sequences, response format, and
// modalities (§4.5 rules 3-5).
type GeminiGenerationConfig struct {
	StopSequences    []string        `json:"stopSequences,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"topP,omitempty"`
	MaxOutputTokens  *int            `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
	ResponseModalities []string      `json:"responseModalities,omitempty"`
}

// GeminiGenerateContentRequest is the body for
// POST /v1beta/models/{model}:generateContent (and :streamGenerateContent).
type GeminiGenerateContentRequest struct {
	Contents          []GeminiContent         `json:"contents"`
	SystemInstruction *GeminiContent          `json:"systemInstruction,omitempty"`
	Tools             []GeminiTool            `json:"tools,omitempty"`
	ToolConfig        *GeminiToolConfig       `json:"toolConfig,omitempty"`
	GenerationConfig  *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

type GeminiTool struct {
	FunctionDeclarations []GeminiFunctionDecl `json:"functionDeclarations"`
}

type GeminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// GeminiCandidate is one entry of a response's "candidates" array.
type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
	Index        int           `json:"index"`
}

// GeminiUsageMetadata is Gemini's token roll-up (§4.5 rule 9).
type GeminiUsageMetadata struct {
	PromptTokenCount        int64 `json:"promptTokenCount"`
	CandidatesTokenCount    int64 `json:"candidatesTokenCount"`
	TotalTokenCount         int64 `json:"totalTokenCount"`
	CachedContentTokenCount int64 `json:"cachedContentTokenCount,omitempty"`
	ThoughtsTokenCount      int64 `json:"thoughtsTokenCount,omitempty"`
}

// GeminiGenerateContentResponse is the body of a non-streamed
// :generateContent response, and of each SSE chunk for :streamGenerateContent.
type GeminiGenerateContentResponse struct {
	Candidates    []GeminiCandidate    `json:"candidates"`
	UsageMetadata *GeminiUsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string               `json:"modelVersion,omitempty"`
}

// GeminiEmbedContentRequest is the body for
// POST /v1beta/models/{model}:embedContent.
type GeminiEmbedContentRequest struct {
	Content GeminiContent `json:"content"`
}

type GeminiEmbedContentResponse struct {
	Embedding GeminiEmbeddingValues `json:"embedding"`
}

type GeminiEmbeddingValues struct {
	Values []float64 `json:"values"`
}
