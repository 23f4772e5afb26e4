package errors

// ErrorFormat represents the wire format an error is rendered in.
type ErrorFormat string

const (
	FormatOpenAI ErrorFormat = "openai"
	FormatGemini ErrorFormat = "gemini"
)

// APIError is the standardized error surfaced by the proxy.
type APIError struct {
	HTTPStatus int
	Code       string
	Type       string
	Message    string
}

func (e *APIError) Error() string { return e.Message }

// New builds an APIError.
func New(status int, code, errType, message string) *APIError {
	return &APIError{HTTPStatus: status, Code: code, Type: errType, Message: message}
}

// OpenAIError mirrors OpenAI's error envelope.
type OpenAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

// GeminiError mirrors the Gemini public API error structure.
type GeminiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
