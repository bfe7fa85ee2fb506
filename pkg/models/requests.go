// Package models defines the wire and domain types shared by the CS Club backend.
package models

// Request fields are pointers so a missing field can be told apart from an
// empty one.

// EchoRequest is the body of POST /echo.
type EchoRequest struct {
	Message *string `json:"message"`
}

// EchoResponse mirrors EchoRequest.
type EchoResponse struct {
	Message string `json:"message"`
}

// ChoicesRequest is the body of POST /choices. The JSON names are forwarded
// verbatim as workflow input keys.
type ChoicesRequest struct {
	TodoList      *string `json:"to-do list"`
	DailySchedule *string `json:"daily schedule"`
}

const (
	InputTodoList      = "to-do list"
	InputDailySchedule = "daily schedule"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Query          *string `json:"query"`
	ConversationID string  `json:"conversation_id,omitempty"`
}

// ChatResponse is returned by POST /chat.
type ChatResponse struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}
