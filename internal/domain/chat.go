package domain

import "time"

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageMetadata carries optional advisory annotations on an assistant
// message: follow-up actions, the sensors the answer drew on, and how
// confident the responder was.
type MessageMetadata struct {
	SuggestedActions []string `json:"suggestedActions,omitempty"`
	RelatedSensorIDs []string `json:"relatedSensorIds,omitempty"`
	Confidence       float64  `json:"confidence,omitempty"`
}

// ChatMessage is one turn in a conversation. Messages are immutable once
// created; the session store only ever appends them.
type ChatMessage struct {
	ID        string           `json:"id"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

// PromptMessage is the provider-agnostic role/content pair sent to the
// chat-completion endpoint.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ProviderStatus describes the generative-language provider's availability
// as last observed by the gateway.
type ProviderStatus struct {
	Configured    bool       `json:"configured"`
	QuotaExceeded bool       `json:"quotaExceeded"`
	QuotaResetAt  *time.Time `json:"quotaResetAt,omitempty"`
}
