// Package chat defines the project chat message as it travels over the
// live channel and into storage.
package chat

import "time"

type Sender struct {
	ID    string `json:"_id"`
	Email string `json:"email"`
}

type Message struct {
	Text      string    `json:"message"`
	Sender    Sender    `json:"sender"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// AISender is the sender identity attached to assistant replies.
var AISender = Sender{ID: "ai", Email: "AI"}
