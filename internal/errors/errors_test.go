package errors

import (
	"encoding/json"
	"testing"
)

func TestToJSONOpenAIFormat(t *testing.T) {
	e := QuotaExceeded("rate limit: 5 req/min")
	raw, err := e.ToJSON(FormatOpenAI)
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	var out OpenAIError
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Error.Type != "rate_limit_error" {
		t.Errorf("type = %q, want rate_limit_error", out.Error.Type)
	}
	if out.Error.Message != "rate limit: 5 req/min" {
		t.Errorf("message = %q", out.Error.Message)
	}
}

func TestToJSONGeminiFormat(t *testing.T) {
	e := NoCredentialAvailable("no credential available")
	raw, err := e.ToJSON(FormatGemini)
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	var out GeminiError
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Error.Code != 503 {
		t.Errorf("code = %d, want 503", out.Error.Code)
	}
	if out.Error.Status != "UNAVAILABLE" {
		t.Errorf("status = %q, want UNAVAILABLE", out.Error.Status)
	}
}

func TestIsRetryableUpstream(t *testing.T) {
	cases := []struct {
		status int
		text   string
		want   bool
	}{
		{404, "", true},
		{429, "", true},
		{500, "", true},
		{503, "", true},
		{400, "", false},
		{0, "generation failed: RESOURCE_EXHAUSTED", true},
		{0, "model NOT_FOUND", true},
		{0, "token refresh failed", false},
	}
	for _, tc := range cases {
		if got := IsRetryableUpstream(tc.status, tc.text); got != tc.want {
			t.Errorf("IsRetryableUpstream(%d, %q) = %v, want %v", tc.status, tc.text, got, tc.want)
		}
	}
}

func TestIsAuthFailure(t *testing.T) {
	if !IsAuthFailure("API Error 403: forbidden") {
		t.Error("403 should count as auth failure")
	}
	if !IsAuthFailure("status PERMISSION_DENIED") {
		t.Error("PERMISSION_DENIED should count as auth failure")
	}
	if IsAuthFailure("connection reset") {
		t.Error("network error should not count as auth failure")
	}
}

func TestMapHTTPErrorExtractsUpstreamMessage(t *testing.T) {
	body := []byte(`{"error":{"message":"quota exhausted","status":"RESOURCE_EXHAUSTED"}}`)
	e := MapHTTPError(429, body)
	if e.Message != "quota exhausted" {
		t.Errorf("message = %q, want quota exhausted", e.Message)
	}
	if e.HTTPStatus != 429 {
		t.Errorf("status = %d, want 429", e.HTTPStatus)
	}
}
