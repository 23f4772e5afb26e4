package translator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/tidwall/gjson"
)

// StreamFromGemini converts a Gemini SSE stream into OpenAI
// chat.completion.chunk frames, terminated with "data: [DONE]". The returned
// reader is fed by a goroutine that stops when ctx is cancelled or the
// upstream reader ends.
func StreamFromGemini(ctx context.Context, model string, upstream io.Reader) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		defer pw.Close()

		id := completionID()
		created := time.Now().Unix()
		scanner := bufio.NewScanner(upstream)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

		first := true
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Bytes()
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			payload := bytes.TrimPrefix(line, []byte("data: "))
			if bytes.Equal(payload, []byte("[DONE]")) {
				break
			}

			parsed := gjson.ParseBytes(payload)
			if errObj := parsed.Get("error"); errObj.Exists() {
				writeStreamError(pw, errObj.Get("message").String())
				return
			}

			for _, candidate := range parsed.Get("candidates").Array() {
				chunk := buildChunk(id, created, model, candidate, first)
				if chunk == nil {
					continue
				}
				first = false
				if err := writeSSE(pw, chunk); err != nil {
					return
				}
			}
		}

		pw.Write([]byte("data: [DONE]\n\n"))
	}()
	return pr
}

func buildChunk(id string, created int64, model string, candidate gjson.Result, first bool) map[string]interface{} {
	text, reasoning, toolCalls := splitParts(candidate, 0)
	finishReason := candidate.Get("finishReason")

	delta := map[string]interface{}{}
	if first {
		delta["role"] = "assistant"
	}
	if text != "" {
		delta["content"] = text
	}
	if reasoning != "" {
		delta["reasoning_content"] = reasoning
	}
	if len(toolCalls) > 0 {
		delta["tool_calls"] = toolCalls
	}
	if len(delta) == 0 && !finishReason.Exists() {
		return nil
	}

	choice := map[string]interface{}{
		"index":         0,
		"delta":         delta,
		"finish_reason": nil,
	}
	if finishReason.Exists() {
		choice["finish_reason"] = mapFinishReason(finishReason.String())
	}
	return map[string]interface{}{
		"id":      id,
		"object":  "chat.completion.chunk",
		"created": created,
		"model":   model,
		"choices": []map[string]interface{}{choice},
	}
}

func writeSSE(w io.Writer, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}

// writeStreamError emits a terminal error frame instead of resetting the
// connection mid-stream.
func writeStreamError(w io.Writer, message string) {
	frame := map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "server_error",
		},
	}
	writeSSE(w, frame)
}
