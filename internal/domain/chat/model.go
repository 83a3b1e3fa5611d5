package chat

import (
	"time"
)

// Message is one entry of a conversation transcript.
type Message struct {
	ID             string    `bson:"_id,omitempty" json:"id"`
	TenantID       string    `bson:"tenantId" json:"tenant_id"`
	ConversationID string    `bson:"conversationId" json:"conversation_id"`
	SenderID       string    `bson:"senderId" json:"sender_id"`
	SenderRole     string    `bson:"senderRole" json:"sender_role"`
	Body           string    `bson:"body" json:"body"`
	CreatedAt      time.Time `bson:"createdAt" json:"created_at"`
}

// Page is a slice of a transcript, oldest message first. Before is the
// cursor for the previous page and is empty on the first message.
type Page struct {
	Messages []*Message `json:"messages"`
	Before   string     `json:"before,omitempty"`
}
