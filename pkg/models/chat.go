package models

// ChatMessageRequest is the body of POST /v1/chat-messages.
type ChatMessageRequest struct {
	Inputs         map[string]string `json:"inputs"`
	Query          string            `json:"query"`
	ResponseMode   ResponseMode      `json:"response_mode"`
	ConversationID string            `json:"conversation_id,omitempty"`
	User           string            `json:"user"`
}

// Usage reports token accounting for a single model call.
type Usage struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	Latency          float64 `json:"latency"`
}

// ChatMetadata is the metadata block of a chat answer.
type ChatMetadata struct {
	Usage Usage `json:"usage"`
}

// ChatMessageResponse is the blocking-mode answer of the chat API.
type ChatMessageResponse struct {
	Event          string       `json:"event"`
	TaskID         string       `json:"task_id"`
	ID             string       `json:"id"`
	MessageID      string       `json:"message_id"`
	ConversationID string       `json:"conversation_id"`
	Mode           string       `json:"mode"`
	Answer         string       `json:"answer"`
	Metadata       ChatMetadata `json:"metadata"`
	CreatedAt      int64        `json:"created_at"`
}
