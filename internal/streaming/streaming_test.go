package streaming

import (
	"bufio"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func readFrames(t *testing.T, r io.Reader) []string {
	t.Helper()
	var frames []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	return frames
}

func TestFakeStreamChunking(t *testing.T) {
	completion := []byte(`{
		"id": "chatcmpl-abc",
		"model": "gemini-2.5-flash",
		"choices": [{
			"index": 0,
			"message": {"role": "assistant", "content": "abcdefghij", "reasoning_content": "hmm"},
			"finish_reason": "stop"
		}]
	}`)
	cfg := FakeStreamConfig{ChunkSize: 4}
	frames := readFrames(t, FakeStream(context.Background(), completion, cfg))

	if len(frames) != 4 {
		t.Fatalf("frames = %d, want 3 chunks + DONE: %v", len(frames), frames)
	}
	if got := gjson.Get(frames[0], "choices.0.delta.role").String(); got != "assistant" {
		t.Errorf("first chunk role = %q", got)
	}
	if got := gjson.Get(frames[0], "choices.0.delta.reasoning_content").String(); got != "hmm" {
		t.Errorf("reasoning on first chunk = %q", got)
	}
	if got := gjson.Get(frames[0], "choices.0.delta.content").String(); got != "abcd" {
		t.Errorf("chunk 0 = %q", got)
	}
	if got := gjson.Get(frames[2], "choices.0.delta.content").String(); got != "ij" {
		t.Errorf("chunk 2 = %q", got)
	}
	if fr := gjson.Get(frames[1], "choices.0.finish_reason"); fr.Type != gjson.Null {
		t.Errorf("mid chunk finish_reason = %v, want null", fr)
	}
	if got := gjson.Get(frames[2], "choices.0.finish_reason").String(); got != "stop" {
		t.Errorf("final finish_reason = %q", got)
	}
	if frames[3] != "[DONE]" {
		t.Errorf("last frame = %q", frames[3])
	}
}

func TestFakeStreamMultibyteRunes(t *testing.T) {
	completion := []byte(`{"choices":[{"message":{"content":"你好世界你好"},"finish_reason":"stop"}]}`)
	frames := readFrames(t, FakeStream(context.Background(), completion, FakeStreamConfig{ChunkSize: 4}))

	if len(frames) != 3 {
		t.Fatalf("frames = %v", frames)
	}
	if got := gjson.Get(frames[0], "choices.0.delta.content").String(); got != "你好世界" {
		t.Errorf("chunk 0 = %q", got)
	}
	if got := gjson.Get(frames[1], "choices.0.delta.content").String(); got != "你好" {
		t.Errorf("chunk 1 = %q", got)
	}
}

func TestFakeStreamEmptyContent(t *testing.T) {
	completion := []byte(`{"choices":[{"message":{"content":""},"finish_reason":"stop"}]}`)
	frames := readFrames(t, FakeStream(context.Background(), completion, FakeStreamConfig{ChunkSize: 4}))

	if len(frames) != 2 {
		t.Fatalf("frames = %v", frames)
	}
	if got := gjson.Get(frames[0], "choices.0.finish_reason").String(); got != "stop" {
		t.Errorf("finish_reason = %q", got)
	}
}

func TestFakeStreamErrorPassthrough(t *testing.T) {
	completion := []byte(`{"error":{"message":"quota exceeded","code":429}}`)
	frames := readFrames(t, FakeStream(context.Background(), completion, DefaultFakeStreamConfig()))

	if len(frames) != 2 {
		t.Fatalf("frames = %v", frames)
	}
	if got := gjson.Get(frames[0], "message").String(); got != "quota exceeded" {
		t.Errorf("error frame = %q", frames[0])
	}
}

func TestSplitRunes(t *testing.T) {
	if got := splitRunes("", 5); len(got) != 1 || got[0] != "" {
		t.Errorf("empty split = %v", got)
	}
	if got := splitRunes("abcde", 0); len(got) != 1 {
		t.Errorf("zero size should fall back to a default, got %v", got)
	}
}

func TestBufferCompleteStream(t *testing.T) {
	sse := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"},\"finish_reason\":null}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: [DONE]\n\n"
	frames := readFrames(t, Buffer(context.Background(), strings.NewReader(sse)))

	// The upstream [DONE] marker is swallowed and none is re-added; the
	// OpenAI translator appends its own and Gemini clients never see one.
	if len(frames) != 2 {
		t.Fatalf("frames = %v", frames)
	}
	if gjson.Get(frames[0], "error").Exists() || gjson.Get(frames[1], "error").Exists() {
		t.Error("complete stream must not grow an error frame")
	}
	for _, f := range frames {
		if f == "[DONE]" {
			t.Error("buffered replay must not emit a [DONE] marker")
		}
	}
}

func TestBufferTruncatedStreamAppendsError(t *testing.T) {
	// No finish_reason, no DONE: the upstream connection dropped mid-answer.
	sse := "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"},\"finish_reason\":null}]}\n\n"
	frames := readFrames(t, Buffer(context.Background(), strings.NewReader(sse)))

	if len(frames) != 2 {
		t.Fatalf("frames = %v", frames)
	}
	if got := gjson.Get(frames[0], "choices.0.delta.content").String(); got != "partial" {
		t.Errorf("buffered frame lost: %q", got)
	}
	if !gjson.Get(frames[1], "error").Exists() {
		t.Errorf("expected terminal error frame, got %q", frames[1])
	}
}

func TestBufferGeminiFinishReasonCountsAsComplete(t *testing.T) {
	sse := "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"x\"}]},\"finishReason\":\"STOP\"}]}\n\n"
	frames := readFrames(t, Buffer(context.Background(), strings.NewReader(sse)))

	if len(frames) != 1 {
		t.Fatalf("frames = %v", frames)
	}
	if gjson.Get(frames[0], "error").Exists() {
		t.Error("finished Gemini stream must not be flagged truncated")
	}
	if frames[0] == "[DONE]" {
		t.Error("Gemini replay must not emit a [DONE] marker")
	}
}

func TestExtractText(t *testing.T) {
	sse := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: [DONE]\n\n"
	text, err := ExtractText(strings.NewReader(sse))
	if err != nil {
		t.Fatal(err)
	}
	if text != "Hello" {
		t.Errorf("text = %q", text)
	}
}
