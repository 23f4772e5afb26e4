package dispatch

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

type errReader struct {
	data string
	read bool
}

func (r *errReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(p, r.data), nil
	}
	return 0, errors.New("connection reset")
}

func collect(t *testing.T, r io.Reader) []string {
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

func TestUnwrapStreamLiftsEnvelope(t *testing.T) {
	sse := "data: {\"response\":{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"hi\"}]}}]},\"modelVersion\":\"gemini-2.5-flash\"}\n\n" +
		"data: [DONE]\n\n"
	frames := collect(t, unwrapStream(context.Background(), io.NopCloser(strings.NewReader(sse))))

	if len(frames) != 1 {
		t.Fatalf("frames = %v", frames)
	}
	if got := gjson.Get(frames[0], "candidates.0.content.parts.0.text").String(); got != "hi" {
		t.Errorf("unwrapped frame = %q", frames[0])
	}
	if got := gjson.Get(frames[0], "modelVersion").String(); got != "gemini-2.5-flash" {
		t.Errorf("modelVersion lost: %q", frames[0])
	}
}

func TestUnwrapStreamPassthroughUnwrapped(t *testing.T) {
	sse := "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"x\"}]}}]}\n\n"
	frames := collect(t, unwrapStream(context.Background(), io.NopCloser(strings.NewReader(sse))))

	if len(frames) != 1 {
		t.Fatalf("frames = %v", frames)
	}
	if got := gjson.Get(frames[0], "candidates.0.content.parts.0.text").String(); got != "x" {
		t.Errorf("frame = %q", frames[0])
	}
}

func TestUnwrapStreamErrorFrameOnInterrupt(t *testing.T) {
	r := &errReader{data: "data: {\"response\":{\"candidates\":[]}}\n\n"}
	frames := collect(t, unwrapStream(context.Background(), io.NopCloser(r)))

	last := frames[len(frames)-1]
	if !gjson.Get(last, "error").Exists() {
		t.Errorf("expected terminal error frame, got %q", last)
	}
	for _, f := range frames {
		if f == "[DONE]" {
			t.Error("interrupted stream must not claim completion")
		}
	}
}
