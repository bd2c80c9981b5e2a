package api

import "counselchat/internal/chat"

// Pagination metadata returned with history pages
type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// MessagesResponse: GET /chat/rooms/{roomId}/messages
type MessagesResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Message    []chat.WireMessage `json:"message"`
		Pagination Pagination         `json:"pagination"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// OlderMessagesResponse: GET /chat/{roomId}/messages?before=
type OlderMessagesResponse struct {
	Data       []chat.WireMessage `json:"data"`
	Pagination Pagination         `json:"pagination"`
}

// SendMessageResponse: POST /chat/{roomId}/messages
type SendMessageResponse struct {
	Success bool             `json:"success"`
	Data    chat.WireMessage `json:"data"`
	Error   string           `json:"error,omitempty"`
}

// ErrorResponse is the body the backend sends with a non-2xx status
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}
