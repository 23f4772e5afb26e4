package translator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// FromGeminiResponse converts a public-Gemini unary response into an OpenAI
// chat.completion envelope. Error payloads pass through untouched.
func FromGeminiResponse(model string, body []byte) ([]byte, error) {
	parsed := gjson.ParseBytes(body)
	if parsed.Get("error").Exists() {
		return body, nil
	}
	candidates := parsed.Get("candidates")
	if !candidates.Exists() {
		return body, nil
	}

	var choices []map[string]interface{}
	for idx, candidate := range candidates.Array() {
		text, reasoning, toolCalls := splitParts(candidate, 0)

		message := map[string]interface{}{
			"role":    "assistant",
			"content": text,
		}
		if reasoning != "" {
			message["reasoning_content"] = reasoning
		}
		if len(toolCalls) > 0 {
			message["tool_calls"] = toolCalls
		}

		finish := mapFinishReason(candidate.Get("finishReason").String())
		if len(toolCalls) > 0 {
			finish = "tool_calls"
		}
		choices = append(choices, map[string]interface{}{
			"index":         idx,
			"message":       message,
			"finish_reason": finish,
		})
	}

	usage := parsed.Get("usageMetadata")
	prompt := usage.Get("promptTokenCount").Int()
	completion := usage.Get("candidatesTokenCount").Int()

	return json.Marshal(map[string]interface{}{
		"id":      completionID(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": choices,
		"usage": map[string]interface{}{
			"prompt_tokens":     prompt,
			"completion_tokens": completion,
			"total_tokens":      prompt + completion,
		},
	})
}

func completionID() string {
	return "chatcmpl-" + uuid.NewString()
}

// splitParts separates a candidate's parts into visible text, reasoning text
// (parts flagged with "thought"), and tool calls.
func splitParts(candidate gjson.Result, callIndexBase int) (text, reasoning string, toolCalls []map[string]interface{}) {
	for _, part := range candidate.Get("content.parts").Array() {
		if t := part.Get("text"); t.Exists() {
			if part.Get("thought").Bool() {
				reasoning += t.String()
			} else {
				text += t.String()
			}
		}
		if fn := part.Get("functionCall"); fn.Exists() {
			args := fn.Get("args")
			argsJSON := "{}"
			if args.Exists() {
				raw, err := json.Marshal(args.Value())
				if err == nil {
					argsJSON = string(raw)
				}
			}
			toolCalls = append(toolCalls, map[string]interface{}{
				"index": len(toolCalls) + callIndexBase,
				"id":    fmt.Sprintf("call_%s_%d", fn.Get("name").String(), len(toolCalls)+callIndexBase),
				"type":  "function",
				"function": map[string]interface{}{
					"name":      fn.Get("name").String(),
					"arguments": argsJSON,
				},
			})
		}
	}
	return text, reasoning, toolCalls
}

func mapFinishReason(reason string) string {
	switch reason {
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "PROHIBITED_CONTENT":
		return "content_filter"
	default:
		return "stop"
	}
}
