package dispatch

import (
	"fmt"

	"github.com/nulpointcorp/llmur-gateway/internal/graph"
)

// Surface identifies which public route a dispatch call serves.
type Surface int

const (
	SurfaceChatCompletions Surface = iota
	SurfaceEmbeddings
)

// endpointFor builds the provider-specific path and query string for one
// connection/surface pair.
func endpointFor(conn graph.Connection, surface Surface, stream bool) (path, query string) {
	switch conn.Variant.Provider {
	case "azure":
		op := "chat/completions"
		if surface == SurfaceEmbeddings {
			op = "embeddings"
		} else if stream {
			op = "chat/completions"
		}
		path = fmt.Sprintf("/openai/deployments/%s/%s", conn.Variant.Model, op)
		query = "api-version=" + conn.Variant.APIVersion
		return

	case "gemini":
		op := "generateContent"
		if surface == SurfaceEmbeddings {
			op = "embedContent"
		} else if stream {
			op = "streamGenerateContent"
		}
		path = fmt.Sprintf("/v1beta/models/%s:%s", conn.Variant.Model, op)
		if stream {
			query = "alt=sse"
		}
		return

	default: // openai, openai-compatible
		if surface == SurfaceEmbeddings {
			path = "/embeddings"
		} else {
			path = "/chat/completions"
		}
		return
	}
}
