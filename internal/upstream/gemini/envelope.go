package gemini

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"gempool-go/internal/models"
)

// Fields of the public Gemini request that the envelope forwards verbatim.
var requestFields = []string{
	"contents",
	"systemInstruction",
	"generationConfig",
	"safetySettings",
	"tools",
	"toolConfig",
	"cachedContent",
}

// BuildEnvelope wraps a public Gemini-shaped request body into the Code
// Assist v1internal envelope {"model","project","request":{...}} and applies
// the variant's thinking/search adjustments.
func BuildEnvelope(variant models.Variant, projectID string, geminiBody []byte) ([]byte, error) {
	if !gjson.ValidBytes(geminiBody) {
		return nil, fmt.Errorf("invalid request JSON")
	}

	out := []byte(`{}`)
	var err error
	if out, err = sjson.SetBytes(out, "model", variant.Base); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "project", projectID); err != nil {
		return nil, err
	}

	for _, field := range requestFields {
		if v := gjson.GetBytes(geminiBody, field); v.Exists() {
			if out, err = sjson.SetRawBytes(out, "request."+field, []byte(v.Raw)); err != nil {
				return nil, fmt.Errorf("set %s: %w", field, err)
			}
		}
	}
	if !gjson.GetBytes(out, "request").Exists() {
		if out, err = sjson.SetRawBytes(out, "request", []byte(`{}`)); err != nil {
			return nil, err
		}
	}

	out = applyThinking(variant, out)
	out = applySearch(variant, out)
	out = applyImageHints(variant, out)
	return out, nil
}

func applyThinking(variant models.Variant, body []byte) []byte {
	switch variant.Thinking {
	case models.ThinkingMax:
		body, _ = sjson.SetBytes(body, "request.generationConfig.thinkingConfig.thinkingBudget", 24576)
		body, _ = sjson.SetBytes(body, "request.generationConfig.thinkingConfig.includeThoughts", true)
	case models.ThinkingNone:
		body, _ = sjson.SetBytes(body, "request.generationConfig.thinkingConfig.thinkingBudget", 0)
		body, _ = sjson.DeleteBytes(body, "request.generationConfig.thinkingConfig.includeThoughts")
	}
	return body
}

func applySearch(variant models.Variant, body []byte) []byte {
	if !variant.Search {
		return body
	}
	search := map[string]interface{}{
		"googleSearchRetrieval": map[string]interface{}{
			"dynamicRetrievalConfig": map[string]interface{}{
				"mode": "MODE_DYNAMIC",
			},
		},
	}
	out, err := sjson.SetBytes(body, "request.tools.-1", search)
	if err != nil {
		return body
	}
	return out
}

// applyImageHints makes image models return images instead of the text-only
// default, and strips thinkingConfig which they reject.
func applyImageHints(variant models.Variant, body []byte) []byte {
	if !strings.Contains(strings.ToLower(variant.Base), "flash-image") {
		return body
	}
	if out, err := sjson.SetBytes(body, "request.generationConfig.responseModalities", []string{"Image"}); err == nil {
		body = out
	}
	if out, err := sjson.DeleteBytes(body, "request.generationConfig.thinkingConfig"); err == nil {
		body = out
	}
	return body
}

// UnwrapResponse lifts the v1internal {"response": {...}} wrapper to the
// public Gemini shape, carrying modelVersion along. Bodies without a wrapper
// pass through unchanged.
func UnwrapResponse(body []byte) []byte {
	resp := gjson.GetBytes(body, "response")
	if !resp.Exists() {
		return body
	}
	out := []byte(resp.Raw)
	if mv := gjson.GetBytes(body, "modelVersion"); mv.Exists() && !gjson.GetBytes(out, "modelVersion").Exists() {
		if patched, err := sjson.SetRawBytes(out, "modelVersion", []byte(mv.Raw)); err == nil {
			out = patched
		}
	}
	return out
}
