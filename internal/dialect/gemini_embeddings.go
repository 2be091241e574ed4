package dialect

import "encoding/json"

// ToGeminiEmbedding translates a public embeddings request into Gemini's
// embedContent body for one input string. Gemini embeds one piece of content
// per call, so a batched public "input" array is first split with
// DecodeEmbeddingInputs and each item is translated by its own call.
func ToGeminiEmbedding(input string) GeminiEmbedContentRequest {
	return GeminiEmbedContentRequest{Content: GeminiContent{Parts: []GeminiPart{{Text: input}}}}
}

// DecodeEmbeddingInputs normalizes EmbeddingsRequest.Input (a string or an
// array of strings) into a flat list, since Gemini has no native batch
// embedding call and the dispatcher must fan out one request per item.
func DecodeEmbeddingInputs(raw json.RawMessage) []string {
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

// FromGeminiEmbedding assembles a public EmbeddingsResponse from the
// per-item Gemini embedContent results gathered by the dispatcher.
func FromGeminiEmbedding(model string, values [][]float64) EmbeddingsResponse {
	data := make([]EmbeddingData, len(values))
	for i, v := range values {
		data[i] = EmbeddingData{Index: i, Embedding: v, Object: "embedding"}
	}
	return EmbeddingsResponse{Object: "list", Model: model, Data: data}
}
