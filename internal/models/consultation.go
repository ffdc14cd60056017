package models

import "strings"

type ConsultationType string

const (
	TypeGeneral          ConsultationType = "general"
	TypeRiskAssessment   ConsultationType = "risk-assessment"
	TypeComplianceReview ConsultationType = "compliance-review"
	TypeAuditPreparation ConsultationType = "audit-preparation"
)

// ConsultationTypes lists the canonical types in menu order.
var ConsultationTypes = []ConsultationType{
	TypeGeneral,
	TypeRiskAssessment,
	TypeComplianceReview,
	TypeAuditPreparation,
}

type ConsultationStatus string

const (
	StatusActive    ConsultationStatus = "active"
	StatusCompleted ConsultationStatus = "completed"
	// StatusPending is never stored; it stands in for a missing status.
	StatusPending ConsultationStatus = "pending"
)

// Consultation represents a user's compliance question as stored in the backing store
type Consultation struct {
	ID          string             `json:"id"`
	Topic       string             `json:"topic"`
	Description string             `json:"description"`
	Type        ConsultationType   `json:"type,omitempty"`
	Status      ConsultationStatus `json:"status,omitempty"`
	UserID      string             `json:"userId"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
	Created     DateTime           `json:"created"`
	Updated     DateTime           `json:"updated"`
}

// EffectiveStatus returns the status used for display and filtering.
func (c Consultation) EffectiveStatus() ConsultationStatus {
	if strings.TrimSpace(string(c.Status)) == "" {
		return StatusPending
	}
	return c.Status
}

// Attachment is a local file reference collected by the creation wizard.
// Attachments are never uploaded to the backing store.
type Attachment struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mime_type"`
	IsImage  bool   `json:"is_image"`
}
