package models

import "time"

// AsyncSearchStatus is the AsyncSearchRequest state machine.
type AsyncSearchStatus string

const (
	SearchSubmitted       AsyncSearchStatus = "submitted"
	SearchPolling         AsyncSearchStatus = "polling"
	SearchWebhookReceived AsyncSearchStatus = "webhook_received"
	SearchCompleted       AsyncSearchStatus = "completed"
	SearchFailed          AsyncSearchStatus = "failed"
	SearchCancelled       AsyncSearchStatus = "cancelled"
	SearchNoMatch         AsyncSearchStatus = "no_match"
)

// IsTerminal reports whether s admits no further mutation.
func (s AsyncSearchStatus) IsTerminal() bool {
	switch s {
	case SearchCompleted, SearchFailed, SearchCancelled, SearchNoMatch:
		return true
	default:
		return false
	}
}

// SearchIDMapping maps a per-row correlation id (assigned at submission
// time) to the Record it was submitted for. Persisted, never rederived
// from payload order.
type SearchIDMapping map[string]string

// AsyncSearchRequest tracks one bulk merchant-enrichment submission.
type AsyncSearchRequest struct {
	SearchID string `json:"searchId" gorm:"primaryKey;type:varchar(64)"`

	BatchID  string  `json:"batchId" gorm:"type:varchar(36);index"`
	RecordID *string `json:"recordId,omitempty" gorm:"type:varchar(36)"`

	Status AsyncSearchStatus `json:"status" gorm:"type:varchar(20);index"`

	RequestPayload  string `json:"requestPayload,omitempty" gorm:"type:text"`
	ResponsePayload string `json:"responsePayload,omitempty" gorm:"type:text"`

	PollAttempts int        `json:"pollAttempts"`
	LastPolledAt *time.Time `json:"lastPolledAt,omitempty"`
	SubmittedAt  time.Time  `json:"submittedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`

	SearchIDMapping SearchIDMapping `json:"searchIdMapping" gorm:"serializer:json"`

	Error string `json:"error,omitempty"`
}

func (AsyncSearchRequest) TableName() string { return "async_search_requests" }

// WebhookEvent is one inbound notification from the card network
// collaborator.
type WebhookEvent struct {
	EventID       string     `json:"eventId" gorm:"primaryKey;type:varchar(64)"`
	EventType     string     `json:"eventType"`
	BulkRequestID string     `json:"bulkRequestId" gorm:"index"`
	Payload       string     `json:"payload" gorm:"type:text"`
	Processed     bool       `json:"processed"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	ReceivedAt    time.Time  `json:"receivedAt"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }
