package dialect

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestWriteSSE_FramesDataLine(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSSE(&buf, ChatStreamChunk{ID: "c1", Object: "chat.completion.chunk"}); err != nil {
		t.Fatalf("WriteSSE: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "data: ") || !strings.HasSuffix(buf.String(), "\n\n") {
		t.Errorf("unexpected SSE framing: %q", buf.String())
	}
}

func TestWriteSSEDone_WritesDoneMarker(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSSEDone(&buf); err != nil {
		t.Fatalf("WriteSSEDone: %v", err)
	}
	if buf.String() != "data: [DONE]\n\n" {
		t.Errorf("unexpected done marker: %q", buf.String())
	}
}

func TestPassthroughSSE_RelaysLinesAndRecoversUsage(t *testing.T) {
	chunk := ChatStreamChunk{ID: "c1", Usage: &Usage{TotalTokens: 7}}
	body, _ := json.Marshal(chunk)
	input := "data: " + string(body) + "\n\ndata: [DONE]\n\n"

	var out bytes.Buffer
	usage, err := PassthroughSSE(strings.NewReader(input), &out)
	if err != nil {
		t.Fatalf("PassthroughSSE: %v", err)
	}
	if usage.TotalTokens != 7 {
		t.Errorf("expected recovered usage total_tokens=7, got %d", usage.TotalTokens)
	}
	if !strings.Contains(out.String(), "[DONE]") {
		t.Errorf("expected the [DONE] line to be relayed, got %q", out.String())
	}
}

func TestTranscodeGeminiStream_EmitsRoleThenDeltaThenTerminal(t *testing.T) {
	frag1 := GeminiGenerateContentResponse{
		Candidates: []GeminiCandidate{{Index: 0, Content: GeminiContent{Parts: []GeminiPart{{Text: "hel"}}}}},
	}
	frag2 := GeminiGenerateContentResponse{
		Candidates:    []GeminiCandidate{{Index: 0, Content: GeminiContent{Parts: []GeminiPart{{Text: "lo"}}}, FinishReason: "STOP"}},
		UsageMetadata: &GeminiUsageMetadata{PromptTokenCount: 1, CandidatesTokenCount: 2, TotalTokenCount: 3},
	}
	b1, _ := json.Marshal(frag1)
	b2, _ := json.Marshal(frag2)
	input := "data: " + string(b1) + "\ndata: " + string(b2) + "\n"

	var out bytes.Buffer
	usage, err := TranscodeGeminiStream(strings.NewReader(input), &out, "resp1", "gemini-2.0-flash")
	if err != nil {
		t.Fatalf("TranscodeGeminiStream: %v", err)
	}
	if usage.TotalTokens != 3 {
		t.Errorf("expected total_tokens=3, got %d", usage.TotalTokens)
	}

	events := strings.Split(strings.TrimSpace(out.String()), "\n\n")
	if len(events) < 4 {
		t.Fatalf("expected at least 4 SSE events (role, 2 deltas, terminal, done), got %d: %q", len(events), out.String())
	}

	var roleChunk ChatStreamChunk
	data, _ := strings.CutPrefix(events[0], "data: ")
	if err := json.Unmarshal([]byte(data), &roleChunk); err != nil {
		t.Fatalf("unmarshal role chunk: %v", err)
	}
	if roleChunk.Choices[0].Delta.Role != "assistant" {
		t.Errorf("expected the first chunk to carry role=assistant, got %+v", roleChunk.Choices[0])
	}

	last := events[len(events)-1]
	if last != "data: [DONE]" {
		t.Errorf("expected the stream to terminate with [DONE], got %q", last)
	}

	var terminal ChatStreamChunk
	data, _ = strings.CutPrefix(events[len(events)-2], "data: ")
	if err := json.Unmarshal([]byte(data), &terminal); err != nil {
		t.Fatalf("unmarshal terminal chunk: %v", err)
	}
	if terminal.Choices[0].FinishReason != "stop" {
		t.Errorf("expected finish_reason=stop on the terminal chunk, got %q", terminal.Choices[0].FinishReason)
	}
	if terminal.Usage == nil || terminal.Usage.TotalTokens != 3 {
		t.Errorf("expected the terminal chunk to carry usage, got %+v", terminal.Usage)
	}
}

func TestTranscodeGeminiStream_SkipsBlankAndMalformedLines(t *testing.T) {
	input := "\ndata: not-json\ndata: \n"

	var out bytes.Buffer
	_, err := TranscodeGeminiStream(strings.NewReader(input), &out, "resp1", "gemini-2.0-flash")
	if err != nil {
		t.Fatalf("TranscodeGeminiStream: %v", err)
	}
	if !strings.Contains(out.String(), "[DONE]") {
		t.Errorf("expected the stream to still terminate cleanly, got %q", out.String())
	}
}

func TestSplitSSELines_SplitsOnDoubleNewline(t *testing.T) {
	data := []byte("event1\n\nevent2\n\n")
	advance, token, err := SplitSSELines(data, false)
	if err != nil {
		t.Fatalf("SplitSSELines: %v", err)
	}
	if string(token) != "event1" {
		t.Errorf("expected token 'event1', got %q", token)
	}
	if advance != len("event1\n\n") {
		t.Errorf("expected advance past the first event, got %d", advance)
	}
}

func TestSplitSSELines_ReturnsFinalTokenAtEOF(t *testing.T) {
	data := []byte("trailing event")
	advance, token, err := SplitSSELines(data, true)
	if err != nil {
		t.Fatalf("SplitSSELines: %v", err)
	}
	if string(token) != "trailing event" || advance != len(data) {
		t.Errorf("expected the trailing event to be returned whole, got token=%q advance=%d", token, advance)
	}
}

func TestSplitSSELines_NeedsMoreDataWithoutEOF(t *testing.T) {
	advance, token, err := SplitSSELines([]byte("incomplete"), false)
	if err != nil || advance != 0 || token != nil {
		t.Errorf("expected a request for more data, got advance=%d token=%q err=%v", advance, token, err)
	}
}
