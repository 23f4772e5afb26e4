package openai

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"gempool-go/internal/config"
)

// ReverseProxy forwards /openai/* verbatim to the configured OpenAI-compatible
// upstream, swapping in the server-side API key. Returns nil when no key is
// configured, in which case the route is not mounted.
func ReverseProxy(cfg config.OpenAISettings) gin.HandlerFunc {
	if cfg.APIKey == "" {
		return nil
	}
	target, err := url.Parse(cfg.APIBase)
	if err != nil {
		log.WithError(err).Error("invalid openai api_base; raw proxy disabled")
		return nil
	}

	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.URL.Path = strings.TrimPrefix(req.URL.Path, "/openai")
			req.Host = target.Host
			req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
			req.Header.Del("x-api-key")
			req.Header.Del("x-goog-api-key")
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.WithError(err).Warn("openai proxy error")
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error":{"message":"upstream proxy error","type":"server_error"}}`))
		},
	}

	return func(c *gin.Context) {
		proxy.ServeHTTP(c.Writer, c.Request)
	}
}
