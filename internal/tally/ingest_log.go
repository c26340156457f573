package tally

import "time"

// IngestRecord is the audit entry written for every confirmed changeset.
type IngestRecord struct {
	ID          string    `json:"id"`
	FileName    string    `json:"file_name"`
	Enclosures  []string  `json:"enclosures"`
	Summary     Summary   `json:"summary"`
	ConfirmedAt time.Time `json:"confirmed_at"`
	IPAddress   string    `json:"ip_address,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	ArchiveKey  string    `json:"archive_key,omitempty"`
}

// DefaultHistoryLimit caps History when the caller passes no limit.
const DefaultHistoryLimit = 50
