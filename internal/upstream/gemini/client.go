// Package gemini is the HTTP client for Google's internal Code Assist
// endpoint. It speaks the v1internal envelope and leaves translation to the
// layers above.
package gemini

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strings"
	"time"
)

const (
	DefaultEndpoint = "https://cloudcode-pa.googleapis.com"

	unaryAction  = "generateContent"
	streamAction = "streamGenerateContent"
	countAction  = "countTokens"
)

// Call carries the per-request authentication material.
type Call struct {
	AccessToken string
	ProjectID   string
}

type ClientOption func(*Client)

type Client struct {
	endpoint      string
	driveAboutURL string
	httpClient    *http.Client
}

func NewClient(opts ...ClientOption) *Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
	c := &Client{
		endpoint:      DefaultEndpoint,
		driveAboutURL: defaultDriveAboutURL,
		// No overall timeout: streams run until the context cancels.
		httpClient: &http.Client{Transport: tr},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// WithEndpoint overrides the Code Assist base URL.
func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = strings.TrimRight(endpoint, "/")
		}
	}
}

// WithDriveAboutURL overrides the Drive quota probe URL.
func WithDriveAboutURL(url string) ClientOption {
	return func(c *Client) {
		if url != "" {
			c.driveAboutURL = url
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// Generate sends a unary generateContent call. Caller closes resp.Body when
// err is nil.
func (c *Client) Generate(ctx context.Context, call Call, payload []byte) (*http.Response, error) {
	return c.post(ctx, c.endpoint+"/v1internal:"+unaryAction, call, payload)
}

// Stream sends a streaming call; the response body is an SSE stream. Caller
// closes resp.Body when err is nil.
func (c *Client) Stream(ctx context.Context, call Call, payload []byte) (*http.Response, error) {
	return c.post(ctx, c.endpoint+"/v1internal:"+streamAction+"?alt=sse", call, payload)
}

// CountTokens forwards a countTokens call. Caller closes resp.Body when err
// is nil.
func (c *Client) CountTokens(ctx context.Context, call Call, payload []byte) (*http.Response, error) {
	return c.post(ctx, c.endpoint+"/v1internal:"+countAction, call, payload)
}

func (c *Client) post(ctx context.Context, url string, call Call, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyDefaultHeaders(req, call)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	return resp, nil
}

// cliUserAgent mimics the Gemini CLI fingerprint the endpoint expects.
func cliUserAgent() string {
	return fmt.Sprintf("gemini-code-assist-cli/1.0.0 (%s; %s) %s",
		runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func (c *Client) applyDefaultHeaders(req *http.Request, call Call) {
	req.Header.Set("Accept", "application/json")
	if call.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+call.AccessToken)
	}
	req.Header.Set("User-Agent", cliUserAgent())

	gv := strings.TrimPrefix(runtime.Version(), "go")
	req.Header.Set("X-Goog-Api-Client", "gl-go/"+gv)
	req.Header.Set("Client-Metadata", "ideType=IDE_UNSPECIFIED,platform=PLATFORM_UNSPECIFIED,pluginType=GEMINI")

	if pid := strings.TrimSpace(call.ProjectID); pid != "" {
		req.Header.Set("X-Goog-User-Project", pid)
	}
}
