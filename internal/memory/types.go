package memory

import "time"

// Memory is one stored fact extracted from a past conversation.
type Memory struct {
	ID             string         `json:"id"`
	SubjectID      string         `json:"subject_id"`
	MessageID      string         `json:"message_id,omitempty"`
	Content        string         `json:"content"`
	StructuredData map[string]any `json:"structured_data,omitempty"`
	Similarity     float64        `json:"similarity,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Candidate is an extraction result awaiting embedding and insertion.
type Candidate struct {
	Content        string         `json:"content"`
	StructuredData map[string]any `json:"structured_data,omitempty"`
}

// RetrieveResult bundles the matched memories with what is known about the
// subject.
type RetrieveResult struct {
	Memories    []Memory `json:"memories"`
	SubjectName string   `json:"subject_name,omitempty"`
	SubjectInfo string   `json:"subject_info,omitempty"`
}
