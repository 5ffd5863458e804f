package models

// Well-known speaker roles. Content is opaque to the sync layer; assistant
// messages may embed rich markup that only the rendering clients interpret.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Message struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
	// Name is the display name of the speaker; clients manage meaning
	Name    string `json:"name,omitempty"`
	Content string `json:"content,omitempty"`
	// Timestamp in epoch milliseconds; zero means "unknown" and always
	// loses a merge collision against a timestamped duplicate
	Timestamp   int64        `json:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment describes a file carried alongside a message. Only metadata is
// synchronized; payload transfer is a client concern.
type Attachment struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// ValidRole reports whether r is one of the known speaker roles.
func ValidRole(r string) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}
