package dialect

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ChatStreamChunk is one SSE event of the public chat.completion.chunk
// stream, reusing Choice's shape with Delta standing in for Message.
type ChatStreamChunk struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Model   string       `json:"model"`
	Choices []StreamChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

type StreamChoice struct {
	Index        int     `json:"index"`
	Delta        Message `json:"delta"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// WriteSSE frames one event as "data: <json>\n\n", the format both OpenAI
// and Azure use and the one this gateway re-emits for Gemini after
// transcoding.
func WriteSSE(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", body)
	return err
}

// WriteSSEDone writes the terminal "data: [DONE]" event common to all three
// dialects' streamed chat completions.
func WriteSSEDone(w io.Writer) error {
	_, err := io.WriteString(w, "data: [DONE]\n\n")
	return err
}

// PassthroughSSE relays an OpenAI or Azure SSE body line by line (§4.5 P6):
// the wire format already matches the public schema, so no per-event
// transform is needed. It still parses each event to recover the final
// usage payload, the one common aggregate every terminal event across both
// dialects carries, and to find the natural [DONE] boundary.
func PassthroughSSE(r io.Reader, w io.Writer) (usage Usage, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if _, werr := fmt.Fprintf(w, "%s\n", line); werr != nil {
			return usage, werr
		}

		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			continue
		}

		var chunk ChatStreamChunk
		if json.Unmarshal([]byte(data), &chunk) == nil && chunk.Usage != nil {
			usage = *chunk.Usage
		}
	}
	return usage, scanner.Err()
}

// TranscodeGeminiStream implements §4.5 S6: Gemini's streamGenerateContent
// body is a sequence of "data: {...}" lines, each a complete
// GeminiGenerateContentResponse fragment, with no role-delta or [DONE]
// framing of its own. This reads that stream and re-emits it as the public
// chat.completion.chunk SSE shape: exactly one leading chunk carrying
// role="assistant", one delta chunk per text fragment, and at most one
// terminal chunk carrying finish_reason and usage, followed by [DONE].
func TranscodeGeminiStream(r io.Reader, w io.Writer, id, model string) (usage Usage, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	roleSent := false
	terminalSent := false

	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok || data == "" {
			continue
		}

		var gr GeminiGenerateContentResponse
		if err := json.Unmarshal([]byte(data), &gr); err != nil {
			continue
		}

		if !roleSent {
			if werr := WriteSSE(w, ChatStreamChunk{
				ID: id, Object: "chat.completion.chunk", Model: model,
				Choices: []StreamChoice{{Delta: Message{Role: "assistant"}}},
			}); werr != nil {
				return usage, werr
			}
			roleSent = true
		}

		for _, c := range gr.Candidates {
			var text strings.Builder
			for _, p := range c.Content.Parts {
				text.WriteString(p.Text)
			}
			if text.Len() > 0 {
				content, _ := json.Marshal(text.String())
				if werr := WriteSSE(w, ChatStreamChunk{
					ID: id, Object: "chat.completion.chunk", Model: model,
					Choices: []StreamChoice{{Index: c.Index, Delta: Message{Content: content}}},
				}); werr != nil {
					return usage, werr
				}
			}
		}

		if gr.UsageMetadata != nil && !terminalSent {
			resp := FromGemini(gr, model)
			usage = resp.Usage
			finish := ""
			if len(gr.Candidates) > 0 {
				finish = mapFinishReason(gr.Candidates[0].FinishReason)
			}
			if werr := WriteSSE(w, ChatStreamChunk{
				ID: id, Object: "chat.completion.chunk", Model: model,
				Choices: []StreamChoice{{FinishReason: finish}},
				Usage:   &usage,
			}); werr != nil {
				return usage, werr
			}
			terminalSent = true
		}
	}
	if err := scanner.Err(); err != nil {
		return usage, err
	}
	return usage, WriteSSEDone(w)
}

// SplitSSELines is a bufio.SplitFunc-compatible helper retained for callers
// that need to iterate raw event boundaries (double newline) rather than
// single lines; most gemini and passthrough bodies are newline-delimited
// per-event already, but some HTTP/2 server implementations fold SSE
// payloads as CRLF, so a blank CRLF line is accepted as a boundary too.
func SplitSSELines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	i, sep := bytes.Index(data, []byte("\n\n")), 2
	if j := bytes.Index(data, []byte("\r\n\r\n")); j >= 0 && (i < 0 || j < i) {
		i, sep = j, 4
	}
	if i >= 0 {
		return i + sep, bytes.TrimRight(data[0:i], "\r\n"), nil
	}
	if atEOF && len(data) > 0 {
		return len(data), bytes.TrimRight(data, "\r\n"), nil
	}
	return 0, nil, nil
}
