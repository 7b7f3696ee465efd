package llm

// Message is one chat message sent to the completion endpoint.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat asks the endpoint for a specific output shape.
type ResponseFormat struct {
	Type string `json:"type"`
}

// Request is a single-shot completion request.
type Request struct {
	Model          string
	Messages       []Message
	Temperature    *float32
	ResponseFormat *ResponseFormat
	MaxTokens      *int
}

// Usage reports token accounting from the endpoint.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the endpoint's single response message.
type Result struct {
	Content      string
	Model        string
	FinishReason string
	Usage        Usage
}
