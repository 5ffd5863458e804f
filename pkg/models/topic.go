package models

type Topic struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	// CreatedAt timestamp (ms)
	CreatedAt int64 `json:"createdAt,omitempty"`
	// LegacyID carries the "topicId" field written by older desktop
	// releases; Key() treats it as the same identity as ID.
	LegacyID string `json:"topicId,omitempty"`
}

// Key returns the canonical registry key for the topic: ID when present,
// otherwise the legacy topicId. Empty means the topic is unkeyed and is
// skipped during registry merges.
func (t Topic) Key() string {
	if t.ID != "" {
		return t.ID
	}
	return t.LegacyID
}
