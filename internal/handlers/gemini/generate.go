package gemini

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"gempool-go/internal/dispatch"
	apierrors "gempool-go/internal/errors"
	"gempool-go/internal/middleware"
	"gempool-go/internal/models"
	"gempool-go/internal/streaming"
)

// ModelAction routes POST /v1beta/models/{model}:{action}.
func (h *Handler) ModelAction(c *gin.Context) {
	model, action, err := splitModelAction(c.Param("modelAction"))
	if err != nil {
		middleware.AbortWithError(c, apierrors.BadRequest(err.Error()))
		return
	}
	variant, ok := h.parseVariant(c, model)
	if !ok {
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		middleware.AbortWithError(c, apierrors.BadRequest("failed to read request body"))
		return
	}

	req := &dispatch.Request{
		User:     middleware.UserFrom(c),
		APIKeyID: middleware.APIKeyIDFrom(c),
		Variant:  variant,
		Endpoint: c.Request.URL.Path,
		Body:     body,
	}

	switch action {
	case "generateContent":
		h.generate(c, req)
	case "streamGenerateContent":
		req.Stream = true
		h.stream(c, req)
	case "countTokens":
		req.CountTokens = true
		h.generate(c, req)
	default:
		middleware.AbortWithError(c, apierrors.BadRequest("unsupported action "+action))
	}
}

func (h *Handler) generate(c *gin.Context, req *dispatch.Request) {
	reply, err := h.disp.Do(c.Request.Context(), req)
	if err != nil {
		h.abortDispatchError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", reply.Body)
}

func (h *Handler) stream(c *gin.Context, req *dispatch.Request) {
	ctx := c.Request.Context()

	if req.Variant.Mode == models.StreamFake {
		// Unary upstream call, replayed as a single SSE frame.
		reply, err := h.disp.Do(ctx, req)
		if err != nil {
			h.abortDispatchError(c, err)
			return
		}
		sseHeaders(c)
		c.Writer.Write([]byte("data: "))
		c.Writer.Write(reply.Body)
		c.Writer.Write([]byte("\n\n"))
		return
	}

	reply, err := h.disp.Do(ctx, req)
	if err != nil {
		h.abortDispatchError(c, err)
		return
	}
	defer reply.Stream.Close()

	var frames io.Reader = reply.Stream
	if req.Variant.Mode == models.StreamAntiTrunc {
		frames = streaming.Buffer(ctx, reply.Stream)
	}

	sseHeaders(c)
	flusher, _ := c.Writer.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := frames.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func sseHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
}
