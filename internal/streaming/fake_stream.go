// Package streaming implements the two non-passthrough stream modes: fake
// streaming, which chunks a complete unary response into SSE frames, and
// anti-truncation streaming, which buffers the whole upstream stream before
// emitting anything to the client.
package streaming

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/tidwall/gjson"
)

// FakeStreamConfig controls how a unary response is sliced into SSE chunks.
type FakeStreamConfig struct {
	ChunkSize  int           // runes per content chunk
	ChunkDelay time.Duration // pause between chunks
}

// DefaultFakeStreamConfig returns the pacing used for 假流式 requests.
func DefaultFakeStreamConfig() FakeStreamConfig {
	return FakeStreamConfig{
		ChunkSize:  20,
		ChunkDelay: 50 * time.Millisecond,
	}
}

// FakeStream turns a complete chat.completion body into a
// chat.completion.chunk SSE stream. The content of the first choice is split
// into rune chunks; reasoning content rides on the first chunk and tool calls
// on the last, so clients that only watch deltas still see everything.
func FakeStream(ctx context.Context, completion []byte, cfg FakeStreamConfig) io.Reader {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()

		parsed := gjson.ParseBytes(completion)
		if errObj := parsed.Get("error"); errObj.Exists() {
			writeFrame(pw, json.RawMessage(errObj.Raw))
			writeDone(pw)
			return
		}

		choice := parsed.Get("choices.0")
		if !choice.Exists() {
			writeDone(pw)
			return
		}

		id := parsed.Get("id").String()
		model := parsed.Get("model").String()
		created := parsed.Get("created").Int()
		if created == 0 {
			created = time.Now().Unix()
		}

		content := choice.Get("message.content").String()
		reasoning := choice.Get("message.reasoning_content").String()
		toolCalls := choice.Get("message.tool_calls")
		finish := choice.Get("finish_reason").String()

		chunks := splitRunes(content, cfg.ChunkSize)
		for i, chunk := range chunks {
			select {
			case <-ctx.Done():
				return
			default:
			}

			delta := map[string]interface{}{}
			if i == 0 {
				delta["role"] = "assistant"
				if reasoning != "" {
					delta["reasoning_content"] = reasoning
				}
			}
			if chunk != "" {
				delta["content"] = chunk
			}

			last := i == len(chunks)-1
			if last && toolCalls.Exists() {
				delta["tool_calls"] = toolCalls.Value()
			}

			frame := map[string]interface{}{
				"id":      id,
				"object":  "chat.completion.chunk",
				"created": created,
				"model":   model,
				"choices": []map[string]interface{}{{
					"index":         0,
					"delta":         delta,
					"finish_reason": finishValue(finish, last),
				}},
			}
			if err := writeFrame(pw, frame); err != nil {
				return
			}

			if !last && cfg.ChunkDelay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(cfg.ChunkDelay):
				}
			}
		}

		writeDone(pw)
	}()

	return pr
}

func finishValue(finish string, last bool) interface{} {
	if !last || finish == "" {
		return nil
	}
	return finish
}

// splitRunes slices text into chunks of at most size runes, never splitting a
// multi-byte character. Empty text yields a single empty chunk so the stream
// still carries the role and finish_reason.
func splitRunes(text string, size int) []string {
	if size <= 0 {
		size = 20
	}

	runes := []rune(text)
	var chunks []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	if len(chunks) == 0 {
		chunks = append(chunks, "")
	}
	return chunks
}

func writeFrame(w io.Writer, payload interface{}) error {
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

func writeDone(w io.Writer) {
	w.Write([]byte("data: [DONE]\n\n"))
}
