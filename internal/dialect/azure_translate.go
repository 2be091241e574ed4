package dialect

import "encoding/json"

// AzureAPIVersion is a closed enum over the Azure OpenAI API versions this
// gateway speaks, since each version's wire quirks are handled explicitly
// rather than by string comparison scattered through the translator.
type AzureAPIVersion string

const (
	Azure20240201 AzureAPIVersion = "2024-02-01"
	Azure20240601 AzureAPIVersion = "2024-06-01"
	Azure20241021 AzureAPIVersion = "2024-10-21"
)

// azureChatRequest is the Azure chat completions request body. It is
// wire-identical to the public ChatRequest except that "model" is carried by
// the URL's deployment segment, not the body.
type azureChatRequest struct {
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
	N               *int            `json:"n,omitempty"`
}

// ToAzure translates a public ChatRequest into the body Azure expects at
// /openai/deployments/{deployment}/chat/completions, applying the
// version-gated adjustments of §4.5 rule 6.
func ToAzure(req ChatRequest, version AzureAPIVersion) (json.RawMessage, []Loss) {
	var losses []Loss

	az := azureChatRequest{
		Messages:       req.Messages,
		Stream:         req.Stream,
		StreamOptions:  req.StreamOptions,
		Temperature:    req.Temperature,
		TopP:           req.TopP,
		MaxTokens:      req.MaxTokens,
		Stop:           req.Stop,
		Tools:          req.Tools,
		ToolChoice:     req.ToolChoice,
		ResponseFormat: req.ResponseFormat,
		N:              req.N,
	}

	// Rule 6: on 2024-06-01 and later, stream_options.include_usage must be
	// forced true for streamed requests, since earlier API versions never
	// emit a usage-bearing terminal chunk at all and the caller should not
	// be misled into expecting one.
	if req.Stream && version != Azure20240201 {
		if az.StreamOptions == nil {
			az.StreamOptions = &StreamOptions{}
		}
		az.StreamOptions.IncludeUsage = true
	}

	// response_format / json_schema is only honored from 2024-08-01-preview
	// onward in the real Azure API; the oldest version this gateway speaks
	// predates that, so json_schema silently downgrades to json_object with
	// a recorded loss rather than a 400 from upstream.
	if version == Azure20240201 && len(req.ResponseFormat) > 0 {
		var rf ResponseFormat
		if json.Unmarshal(req.ResponseFormat, &rf) == nil && rf.Type == "json_schema" {
			downgraded, _ := json.Marshal(ResponseFormat{Type: "json_object"})
			az.ResponseFormat = downgraded
			losses = append(losses, Loss{Field: "response_format.json_schema", Reason: "azure 2024-02-01 has no structured-output support, downgraded to json_object"})
		}
	}

	if len(req.Modalities) > 0 {
		losses = append(losses, Loss{Field: "modalities", Reason: "azure chat completions has no modalities parameter"})
	}
	if req.SafetyIdentifier != "" {
		losses = append(losses, Loss{Field: "safety_identifier", Reason: "no azure equivalent"})
	}

	body, _ := json.Marshal(az)
	return body, losses
}

// FromAzure decodes an Azure chat completions response. The wire shape is
// identical to the public ChatResponse, so this is a direct unmarshal —
// Azure is the one dialect with no lossy reverse transform.
func FromAzure(body []byte) (ChatResponse, error) {
	var resp ChatResponse
	err := json.Unmarshal(body, &resp)
	return resp, err
}

// ToAzureEmbeddings and FromAzureEmbeddings are identity transforms: Azure's
// embeddings wire shape matches the public schema exactly.
func ToAzureEmbeddings(req EmbeddingsRequest) json.RawMessage {
	body, _ := json.Marshal(struct {
		Input          json.RawMessage `json:"input"`
		EncodingFormat string          `json:"encoding_format,omitempty"`
	}{Input: req.Input, EncodingFormat: req.EncodingFormat})
	return body
}

func FromAzureEmbeddings(body []byte) (EmbeddingsResponse, error) {
	var resp EmbeddingsResponse
	err := json.Unmarshal(body, &resp)
	return resp, err
}
