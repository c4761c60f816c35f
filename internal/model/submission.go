// Package model contains the submission record and its status state machine,
// shared across the API, worker, and CLI.
package model

import "time"

// Submission holds everything the pipeline knows about one voice message.
// Billing fields (Tier, UsedAdvancedAI, ProcessingCost) are a snapshot taken
// at processing time and are never recomputed after a terminal verdict.
type Submission struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	SenderEmail string `json:"senderEmail"`
	Destination string `json:"destination"`

	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
	// ObjectKey locates the payload in blob storage; storage itself is an
	// external collaborator.
	ObjectKey       string  `json:"-"`
	DeclaredSeconds float64 `json:"declaredSeconds,omitempty"`

	Status          Status `json:"status"`
	RejectionReason string `json:"rejectionReason,omitempty"`

	Confidence  *float64 `json:"confidence,omitempty"`
	ModelsUsed  []string `json:"modelsUsed,omitempty"`
	Transcript  string   `json:"transcript,omitempty"`
	Fingerprint string   `json:"-"`

	Tier           Tier    `json:"tier"`
	UsedAdvancedAI bool    `json:"usedAdvancedAI"`
	ProcessingCost float64 `json:"processingCost"`
	Attempts       int     `json:"attempts"`

	Notified      bool       `json:"notified"`
	NotifiedAt    *time.Time `json:"notifiedAt,omitempty"`
	NotifyMethod  string     `json:"notifyMethod,omitempty"`
	NotifyDetails string     `json:"-"`

	ReceivedAt    time.Time  `json:"receivedAt"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
	TranscribedAt *time.Time `json:"transcribedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}
