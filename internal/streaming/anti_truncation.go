package streaming

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const scannerBuf = 4 * 1024 * 1024

// Buffer consumes the whole upstream SSE stream before emitting a single byte
// to the client. A stream that ends without a finish_reason or [DONE] marker
// is treated as truncated: the buffered frames are replayed anyway and a
// terminal error frame is appended so the client knows the tail is missing.
// No [DONE] marker is written; Gemini streams end on EOF and the OpenAI
// translator appends its own terminator.
func Buffer(ctx context.Context, upstream io.Reader) io.Reader {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()

		frames, complete, err := collectFrames(ctx, upstream)
		if err != nil && err != context.Canceled {
			log.Warnf("anti-truncation: upstream read failed: %v", err)
		}

		for _, frame := range frames {
			if _, werr := pw.Write(frame); werr != nil {
				return
			}
		}

		if !complete {
			log.Warnf("anti-truncation: stream ended without completion after %d frames", len(frames))
			writeFrame(pw, map[string]interface{}{
				"error": map[string]interface{}{
					"message": "upstream stream ended before completion",
					"type":    "server_error",
				},
			})
		}
	}()

	return pr
}

// collectFrames reads every "data:" frame, re-encoded with a trailing blank
// line, and reports whether the stream terminated gracefully. The [DONE]
// marker itself is dropped so the caller controls termination.
func collectFrames(ctx context.Context, upstream io.Reader) (frames [][]byte, complete bool, err error) {
	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 64*1024), scannerBuf)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return frames, complete, ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		payload := bytes.TrimPrefix(line, []byte("data: "))
		if bytes.Equal(payload, []byte("[DONE]")) {
			complete = true
			break
		}

		parsed := gjson.ParseBytes(payload)
		if parsed.Get("error").Exists() {
			complete = true
		}
		if fr := parsed.Get("choices.0.finish_reason"); fr.Exists() && fr.Type != gjson.Null {
			complete = true
		}
		if fr := parsed.Get("candidates.0.finishReason"); fr.Exists() {
			complete = true
		}

		frame := make([]byte, 0, len(line)+2)
		frame = append(frame, line...)
		frame = append(frame, '\n', '\n')
		frames = append(frames, frame)
	}
	return frames, complete, scanner.Err()
}

// ExtractText concatenates the delta content of an OpenAI-shaped SSE stream.
// Used when a buffered stream has to be inspected rather than replayed.
func ExtractText(r io.Reader) (string, error) {
	var full strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), scannerBuf)

	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		payload := bytes.TrimPrefix(line, []byte("data: "))
		if bytes.Equal(payload, []byte("[DONE]")) {
			break
		}
		if content := gjson.GetBytes(payload, "choices.0.delta.content"); content.Exists() {
			full.WriteString(content.String())
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return full.String(), nil
}
