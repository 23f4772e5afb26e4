// Package translator converts between the OpenAI chat-completions wire shape
// and the public Gemini request/response shape.
package translator

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const maxOutputTokens = 65536

// ToGeminiRequest converts an OpenAI chat-completions request body into the
// public Gemini shape consumed by the upstream envelope builder.
func ToGeminiRequest(rawJSON []byte) []byte {
	out := `{"contents":[]}`

	contents, system := translateMessages(rawJSON)
	contentsJSON, _ := json.Marshal(contents)
	out, _ = sjson.SetRaw(out, "contents", string(contentsJSON))

	if len(system) > 0 {
		sysJSON, _ := json.Marshal(map[string]interface{}{"parts": system})
		out, _ = sjson.SetRaw(out, "systemInstruction", string(sysJSON))
	}

	genJSON, _ := json.Marshal(buildGenerationConfig(rawJSON))
	out, _ = sjson.SetRaw(out, "generationConfig", string(genJSON))

	out = applyTools(out, rawJSON)
	return []byte(out)
}

func translateMessages(rawJSON []byte) (contents []interface{}, system []interface{}) {
	for _, msg := range gjson.GetBytes(rawJSON, "messages").Array() {
		role := msg.Get("role").String()
		content := msg.Get("content")

		switch role {
		case "system", "developer":
			system = append(system, textParts(content)...)

		case "user":
			contents = append(contents, map[string]interface{}{
				"role":  "user",
				"parts": userParts(content),
			})

		case "assistant":
			parts := assistantParts(msg, content)
			if len(parts) > 0 {
				contents = append(contents, map[string]interface{}{
					"role":  "model",
					"parts": parts,
				})
			}

		case "tool":
			contents = append(contents, map[string]interface{}{
				"role":  "user",
				"parts": []interface{}{toolResponsePart(msg, content)},
			})
		}
	}
	return contents, system
}

func textParts(content gjson.Result) []interface{} {
	if content.IsArray() {
		var parts []interface{}
		for _, p := range content.Array() {
			parts = append(parts, convertContentPart(p))
		}
		return parts
	}
	return []interface{}{map[string]interface{}{"text": content.String()}}
}

func userParts(content gjson.Result) []interface{} {
	return textParts(content)
}

func assistantParts(msg, content gjson.Result) []interface{} {
	var parts []interface{}
	if content.Exists() && content.String() != "" {
		parts = append(parts, textParts(content)...)
	}
	for _, tc := range msg.Get("tool_calls").Array() {
		if tc.Get("type").String() != "function" {
			continue
		}
		var args interface{}
		if err := json.Unmarshal([]byte(tc.Get("function.arguments").String()), &args); err != nil {
			args = map[string]interface{}{}
		}
		parts = append(parts, map[string]interface{}{
			"functionCall": map[string]interface{}{
				"name": tc.Get("function.name").String(),
				"args": args,
			},
		})
	}
	return parts
}

func toolResponsePart(msg, content gjson.Result) interface{} {
	var response interface{}
	if err := json.Unmarshal([]byte(content.String()), &response); err != nil {
		response = map[string]interface{}{"result": content.String()}
	}
	return map[string]interface{}{
		"functionResponse": map[string]interface{}{
			"name":     msg.Get("name").String(),
			"response": response,
		},
	}
}

// convertContentPart maps one OpenAI multimodal content part.
func convertContentPart(part gjson.Result) interface{} {
	switch part.Get("type").String() {
	case "text":
		return map[string]interface{}{"text": part.Get("text").String()}

	case "image_url":
		url := part.Get("image_url.url").String()
		if strings.HasPrefix(url, "data:") {
			if split := strings.SplitN(url, ",", 2); len(split) == 2 {
				return map[string]interface{}{
					"inlineData": map[string]interface{}{
						"mimeType": imageMIME(split[0]),
						"data":     split[1],
					},
				}
			}
		}
		return map[string]interface{}{
			"fileData": map[string]interface{}{"fileUri": url},
		}
	}
	return map[string]interface{}{"text": part.Raw}
}

func imageMIME(prefix string) string {
	for _, mt := range []string{"image/png", "image/webp", "image/gif", "image/heic", "image/heif"} {
		if strings.Contains(prefix, mt) {
			return mt
		}
	}
	return "image/jpeg"
}

func buildGenerationConfig(rawJSON []byte) map[string]interface{} {
	gen := map[string]interface{}{"candidateCount": 1}

	if v := gjson.GetBytes(rawJSON, "temperature"); v.Exists() {
		gen["temperature"] = v.Value()
	}
	if v := gjson.GetBytes(rawJSON, "top_p"); v.Exists() {
		gen["topP"] = v.Value()
	}
	if v := gjson.GetBytes(rawJSON, "n"); v.Exists() && v.Int() > 0 {
		gen["candidateCount"] = int(v.Int())
	}
	if v := gjson.GetBytes(rawJSON, "seed"); v.Exists() {
		gen["seed"] = int(v.Int())
	}
	if v := gjson.GetBytes(rawJSON, "frequency_penalty"); v.Exists() {
		gen["frequencyPenalty"] = v.Value()
	}
	if v := gjson.GetBytes(rawJSON, "presence_penalty"); v.Exists() {
		gen["presencePenalty"] = v.Value()
	}

	maxTokens := 0
	if v := gjson.GetBytes(rawJSON, "max_tokens"); v.Exists() {
		maxTokens = int(v.Int())
	}
	if v := gjson.GetBytes(rawJSON, "max_completion_tokens"); v.Exists() {
		maxTokens = int(v.Int())
	}
	if maxTokens > 0 {
		if maxTokens > maxOutputTokens {
			maxTokens = maxOutputTokens
		}
		gen["maxOutputTokens"] = maxTokens
	}

	if stop := gjson.GetBytes(rawJSON, "stop"); stop.Exists() {
		var seqs []string
		if stop.IsArray() {
			for _, s := range stop.Array() {
				seqs = append(seqs, s.String())
			}
		} else {
			seqs = append(seqs, stop.String())
		}
		if len(seqs) > 0 {
			gen["stopSequences"] = seqs
		}
	}
	return gen
}

func applyTools(out string, rawJSON []byte) string {
	tools := gjson.GetBytes(rawJSON, "tools")
	if !tools.Exists() || !tools.IsArray() {
		return out
	}
	var decls []interface{}
	for _, tool := range tools.Array() {
		if tool.Get("type").String() != "function" {
			continue
		}
		fn := tool.Get("function")
		decl := map[string]interface{}{
			"name": fn.Get("name").String(),
		}
		if desc := fn.Get("description"); desc.Exists() {
			decl["description"] = desc.String()
		}
		if params := fn.Get("parameters"); params.Exists() {
			decl["parameters"] = params.Value()
		}
		decls = append(decls, decl)
	}
	if len(decls) == 0 {
		return out
	}
	declsJSON, _ := json.Marshal([]interface{}{
		map[string]interface{}{"functionDeclarations": decls},
	})
	out, _ = sjson.SetRaw(out, "tools", string(declsJSON))
	return out
}
