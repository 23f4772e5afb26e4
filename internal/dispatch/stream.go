package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"io"

	upstream "gempool-go/internal/upstream/gemini"
)

// unwrapStream relays an upstream SSE body, lifting each frame's v1internal
// {"response": ...} wrapper to the public Gemini shape. An abnormal upstream
// end emits a terminal error frame rather than resetting the connection.
func unwrapStream(ctx context.Context, body io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

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

			frame := upstream.UnwrapResponse(payload)
			if _, err := pw.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := pw.Write(frame); err != nil {
				return
			}
			if _, err := pw.Write([]byte("\n\n")); err != nil {
				return
			}
		}

		// Gemini streams end on EOF without a terminator; only an abnormal
		// end grows an error frame. OpenAI framing is added by the translator.
		if err := scanner.Err(); err != nil {
			pw.Write([]byte(`data: {"error":{"message":"upstream stream interrupted","type":"server_error"}}` + "\n\n"))
		}
	}()

	return pr
}
