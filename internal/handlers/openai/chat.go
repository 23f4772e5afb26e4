package openai

import (
	goerrors "errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"gempool-go/internal/dispatch"
	apierrors "gempool-go/internal/errors"
	"gempool-go/internal/middleware"
	"gempool-go/internal/models"
	"gempool-go/internal/streaming"
	"gempool-go/internal/translator"
)

// ChatCompletions handles POST /v1/chat/completions and /chat/completions.
func (h *Handler) ChatCompletions(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		middleware.AbortWithError(c, apierrors.BadRequest("failed to read request body"))
		return
	}
	if !gjson.ValidBytes(body) {
		middleware.AbortWithError(c, apierrors.BadRequest("request body is not valid JSON"))
		return
	}

	modelName := gjson.GetBytes(body, "model").String()
	if modelName == "" {
		middleware.AbortWithError(c, apierrors.BadRequest("model is required"))
		return
	}
	variant := models.Parse(modelName)
	if !models.IsKnown(variant.Base) {
		middleware.AbortWithError(c, apierrors.BadRequest("unknown model "+modelName))
		return
	}
	stream := gjson.GetBytes(body, "stream").Bool()

	req := &dispatch.Request{
		User:     middleware.UserFrom(c),
		APIKeyID: middleware.APIKeyIDFrom(c),
		Variant:  variant,
		Endpoint: c.Request.URL.Path,
		Body:     translator.ToGeminiRequest(body),
		Stream:   stream,
	}

	reply, err := h.disp.Do(c.Request.Context(), req)
	if err != nil {
		var apiErr *apierrors.APIError
		if goerrors.As(err, &apiErr) {
			middleware.AbortWithError(c, apiErr)
			return
		}
		log.WithError(err).Error("chat completion dispatch failed")
		middleware.AbortWithError(c, apierrors.UpstreamFatal("upstream request failed"))
		return
	}

	if !stream {
		out, err := translator.FromGeminiResponse(modelName, reply.Body)
		if err != nil {
			middleware.AbortWithError(c, apierrors.UpstreamFatal("response translation failed"))
			return
		}
		c.Data(http.StatusOK, "application/json", out)
		return
	}

	ctx := c.Request.Context()
	var frames io.Reader
	switch variant.Mode {
	case models.StreamFake:
		completion, err := translator.FromGeminiResponse(modelName, reply.Body)
		if err != nil {
			middleware.AbortWithError(c, apierrors.UpstreamFatal("response translation failed"))
			return
		}
		frames = streaming.FakeStream(ctx, completion, streaming.DefaultFakeStreamConfig())

	case models.StreamAntiTrunc:
		defer reply.Stream.Close()
		frames = translator.StreamFromGemini(ctx, modelName, streaming.Buffer(ctx, reply.Stream))

	default:
		defer reply.Stream.Close()
		frames = translator.StreamFromGemini(ctx, modelName, reply.Stream)
	}

	streamTo(c, frames)
}

// streamTo relays SSE frames to the client with per-write flushing.
func streamTo(c *gin.Context, frames io.Reader) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

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
