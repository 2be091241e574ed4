package dialect

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// ToGemini translates a public ChatRequest into a Gemini generateContent
// request, returning the accumulated Loss records for fields Gemini cannot
// carry (§4.5).
func ToGemini(req ChatRequest) (GeminiGenerateContentRequest, []Loss) {
	var out GeminiGenerateContentRequest
	var losses []Loss

	var systemParts []GeminiPart
	for _, m := range req.Messages {
		switch m.Role {
		case "system", "developer":
			// Rule 1: system/developer messages fold into systemInstruction.
			systemParts = append(systemParts, textParts(m.Content)...)
		case "user":
			out.Contents = append(out.Contents, GeminiContent{Role: "user", Parts: userParts(m.Content, &losses)})
		case "assistant":
			parts := textParts(m.Content)
			for _, tc := range m.ToolCalls {
				var args json.RawMessage
				if tc.Function.Arguments != "" {
					args = json.RawMessage(tc.Function.Arguments)
				}
				parts = append(parts, GeminiPart{FunctionCall: &GeminiFunctionCall{Name: tc.Function.Name, Args: args}})
			}
			out.Contents = append(out.Contents, GeminiContent{Role: "model", Parts: parts})
		case "tool", "function":
			// Rule 1: a tool/function result becomes a follow-up user
			// message carrying a functionResponse part.
			out.Contents = append(out.Contents, GeminiContent{
				Role: "user",
				Parts: []GeminiPart{{
					FunctionResponse: &GeminiFunctionResp{
						Name:     m.Name,
						Response: rawOrWrap(m.Content),
					},
				}},
			})
		}
	}

	if len(systemParts) > 0 {
		out.SystemInstruction = &GeminiContent{Role: "system", Parts: systemParts}
	}

	if len(req.Tools) > 0 {
		decls := make([]GeminiFunctionDecl, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = GeminiFunctionDecl{Name: t.Function.Name, Description: t.Function.Description, Parameters: t.Function.Parameters}
		}
		out.Tools = []GeminiTool{{FunctionDeclarations: decls}}
	}

	// Rule 2: tool_choice mapping.
	if len(req.ToolChoice) > 0 {
		out.ToolConfig = translateToolChoice(req.ToolChoice)
	}

	cfg := &GeminiGenerationConfig{}
	hasCfg := false

	// Rule 3: stop sequences.
	if len(req.Stop) > 0 {
		if seqs := decodeStop(req.Stop); len(seqs) > 0 {
			cfg.StopSequences = seqs
			hasCfg = true
		}
	}
	if req.Temperature != nil {
		cfg.Temperature = req.Temperature
		hasCfg = true
	}
	if req.TopP != nil {
		cfg.TopP = req.TopP
		hasCfg = true
	}
	if req.MaxTokens != nil {
		cfg.MaxOutputTokens = req.MaxTokens
		hasCfg = true
	}

	// Rule 4: response_format mapping.
	if len(req.ResponseFormat) > 0 {
		var rf ResponseFormat
		if json.Unmarshal(req.ResponseFormat, &rf) == nil {
			switch rf.Type {
			case "json_object":
				cfg.ResponseMimeType = "application/json"
				hasCfg = true
			case "json_schema":
				cfg.ResponseMimeType = "application/json"
				if rf.JSONSchema != nil {
					cfg.ResponseSchema = rf.JSONSchema.Schema
				}
				hasCfg = true
			}
		}
	}

	// Rule 5: modalities.
	if len(req.Modalities) > 0 {
		mapped := make([]string, 0, len(req.Modalities))
		for _, m := range req.Modalities {
			switch m {
			case "text":
				mapped = append(mapped, "TEXT")
			case "audio":
				mapped = append(mapped, "AUDIO")
			default:
				losses = append(losses, Loss{Field: "modalities." + m, Reason: "gemini does not support this modality"})
			}
		}
		if len(mapped) > 0 {
			cfg.ResponseModalities = mapped
			hasCfg = true
		}
	}

	if hasCfg {
		out.GenerationConfig = cfg
	}

	// Fields Gemini has no equivalent for at all.
	for field, present := range map[string]bool{
		"logprobs":          req.LogProbs != nil,
		"top_logprobs":      req.TopLogProbs != nil,
		"prediction":        len(req.Prediction) > 0,
		"safety_identifier": req.SafetyIdentifier != "",
	} {
		if present {
			losses = append(losses, Loss{Field: field, Reason: "no gemini equivalent"})
		}
	}

	return out, losses
}

func translateToolChoice(raw json.RawMessage) *GeminiToolConfig {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		switch s {
		case "none":
			return &GeminiToolConfig{FunctionCallingConfig: GeminiFunctionCallingConfig{Mode: "NONE"}}
		case "required":
			return &GeminiToolConfig{FunctionCallingConfig: GeminiFunctionCallingConfig{Mode: "ANY"}}
		default: // "auto"
			return &GeminiToolConfig{FunctionCallingConfig: GeminiFunctionCallingConfig{Mode: "AUTO"}}
		}
	}
	var named struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if json.Unmarshal(raw, &named) == nil && named.Function.Name != "" {
		return &GeminiToolConfig{FunctionCallingConfig: GeminiFunctionCallingConfig{
			Mode:                 "ANY",
			AllowedFunctionNames: []string{named.Function.Name},
		}}
	}
	return nil
}

func decodeStop(raw json.RawMessage) []string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return []string{s}
	}
	var ss []string
	if json.Unmarshal(raw, &ss) == nil {
		return ss
	}
	return nil
}

// textParts decodes a Message.Content (string or parts array) into plain
// text-only Gemini parts, used for system/developer/assistant messages.
func textParts(content json.RawMessage) []GeminiPart {
	if len(content) == 0 {
		return nil
	}
	var s string
	if json.Unmarshal(content, &s) == nil {
		if s == "" {
			return nil
		}
		return []GeminiPart{{Text: s}}
	}
	var parts []ContentPart
	if json.Unmarshal(content, &parts) == nil {
		out := make([]GeminiPart, 0, len(parts))
		for _, p := range parts {
			if p.Type == "text" {
				out = append(out, GeminiPart{Text: p.Text})
			}
		}
		return out
	}
	return nil
}

// userParts decodes a user Message.Content, translating image parts to
// Gemini inlineData/fileData per §4.5 rule 8 and dropping audio/file parts
// Gemini has no representation for.
func userParts(content json.RawMessage, losses *[]Loss) []GeminiPart {
	if len(content) == 0 {
		return nil
	}
	var s string
	if json.Unmarshal(content, &s) == nil {
		if s == "" {
			return nil
		}
		return []GeminiPart{{Text: s}}
	}
	var parts []ContentPart
	if json.Unmarshal(content, &parts) != nil {
		return nil
	}
	out := make([]GeminiPart, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text":
			out = append(out, GeminiPart{Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			if part, ok := translateImage(p.ImageURL.URL); ok {
				out = append(out, part)
			} else {
				*losses = append(*losses, Loss{Field: "image_url", Reason: "unrecognized image encoding/extension"})
			}
		case "input_audio":
			*losses = append(*losses, Loss{Field: "input_audio", Reason: "gemini inline audio not mapped"})
		case "file":
			*losses = append(*losses, Loss{Field: "file", Reason: "gemini file part not mapped"})
		}
	}
	return out
}

var extMimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".svg":  "image/svg+xml",
}

// translateImage implements §4.5 rule 8: a data: URL becomes an inlineData
// blob; an external URL is resolved by file extension into a fileData
// reference; an unrecognized extension reports ok=false so the caller can
// record a loss.
func translateImage(url string) (GeminiPart, bool) {
	if strings.HasPrefix(url, "data:") {
		comma := strings.IndexByte(url, ',')
		if comma < 0 {
			return GeminiPart{}, false
		}
		header := url[5:comma]
		mimeType, _, _ := strings.Cut(header, ";")
		data := url[comma+1:]
		if _, err := base64.StdEncoding.DecodeString(data); err != nil {
			return GeminiPart{}, false
		}
		return GeminiPart{InlineData: &GeminiBlob{MimeType: mimeType, Data: data}}, true
	}

	for ext, mime := range extMimeTypes {
		if strings.HasSuffix(strings.ToLower(url), ext) {
			return GeminiPart{FileData: &GeminiFileData{MimeType: mime, FileURI: url}}, true
		}
	}
	return GeminiPart{}, false
}

func rawOrWrap(content json.RawMessage) json.RawMessage {
	if len(content) == 0 {
		return json.RawMessage(`{}`)
	}
	var s string
	if json.Unmarshal(content, &s) == nil {
		wrapped, _ := json.Marshal(map[string]string{"result": s})
		return wrapped
	}
	return content
}

// FromGemini translates a (possibly partial, for streaming) Gemini response
// into the public ChatResponse shape, applying §4.5 rules 9-10.
func FromGemini(resp GeminiGenerateContentResponse, model string) ChatResponse {
	out := ChatResponse{Model: model, Object: "chat.completion"}

	for _, c := range resp.Candidates {
		var text strings.Builder
		var toolCalls []ToolCall
		for i, p := range c.Content.Parts {
			if p.Text != "" {
				text.WriteString(p.Text)
			}
			if p.FunctionCall != nil {
				toolCalls = append(toolCalls, ToolCall{
					ID:   fmt.Sprintf("gemini-call-%d-%d", c.Index, i),
					Type: "function",
					Function: ToolCallFunc{
						Name:      p.FunctionCall.Name,
						Arguments: string(p.FunctionCall.Args),
					},
				})
			}
		}
		contentJSON, _ := json.Marshal(text.String())
		out.Choices = append(out.Choices, Choice{
			Index: c.Index,
			Message: Message{
				Role:      "assistant",
				Content:   contentJSON,
				ToolCalls: toolCalls,
			},
			FinishReason: mapFinishReason(c.FinishReason),
		})
	}

	if resp.UsageMetadata != nil {
		u := resp.UsageMetadata
		out.Usage = Usage{
			PromptTokens:     u.PromptTokenCount,
			CompletionTokens: u.CandidatesTokenCount,
			TotalTokens:      u.TotalTokenCount,
		}
		if u.CachedContentTokenCount > 0 {
			out.Usage.PromptTokensDetails = &PromptTokensDetails{CachedTokens: u.CachedContentTokenCount}
		}
		if u.ThoughtsTokenCount > 0 {
			out.Usage.CompletionTokensDetails = &CompletionTokensDetails{ReasoningTokens: u.ThoughtsTokenCount}
		}
	}
	return out
}

// mapFinishReason implements §4.5 rule 10.
func mapFinishReason(r string) string {
	switch r {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	case "":
		return ""
	default:
		return strings.ToLower(r)
	}
}
