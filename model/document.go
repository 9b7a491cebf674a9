package model

import (
	"time"
)

// DocumentStatus represents the processing status of a document
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusComplete   DocumentStatus = "complete"
)

// DocumentContentType distinguishes text documents from page-image sequences
type DocumentContentType string

const (
	ContentTypeText   DocumentContentType = "text"
	ContentTypeImages DocumentContentType = "images"
)

// Document represents an ingested source document, identified by its content
// fingerprint. The raw content column is never serialized into API responses
// or transfer exports.
type Document struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Fingerprint string              `gorm:"type:varchar(64);uniqueIndex;not null" json:"fingerprint"`
	DisplayName string              `gorm:"type:varchar(512);not null" json:"display_name"`
	ContentType DocumentContentType `gorm:"type:varchar(10);not null;default:'text'" json:"content_type"`
	ByteSize    int64               `gorm:"not null" json:"byte_size"`
	RawContent  string              `gorm:"type:text" json:"-"`
	PageCount   int                 `gorm:"default:0" json:"page_count,omitempty"`

	Status              DocumentStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	PlannedUnits        int            `gorm:"default:0" json:"planned_units"`
	CompletedUnits      int            `gorm:"default:0" json:"completed_units"`
	TotalQuestions      int            `gorm:"default:0" json:"total_questions"`
	CompletedWithErrors bool           `gorm:"default:false" json:"completed_with_errors"`

	// Archive of the original upload in Spaces
	SpacesKey string `gorm:"type:varchar(512)" json:"-"`
	SpacesURL string `gorm:"type:varchar(512)" json:"spaces_url,omitempty"`

	// Touched on reads; the retention sweep keys off this column
	LastAccessedAt time.Time `gorm:"index" json:"last_accessed_at"`

	// Relationships
	Questions []Question `gorm:"foreignKey:DocumentFingerprint;references:Fingerprint;constraint:OnDelete:CASCADE" json:"questions,omitempty"`
}

// IsComplete reports whether the document finished processing
func (d *Document) IsComplete() bool {
	return d.Status == DocumentStatusComplete
}

// ============= Response Types =============

// DocumentResponse is used for API responses
type DocumentResponse struct {
	ID                  uint                `json:"id"`
	Fingerprint         string              `json:"fingerprint"`
	DisplayName         string              `json:"display_name"`
	ContentType         DocumentContentType `json:"content_type"`
	ByteSize            int64               `json:"byte_size"`
	PageCount           int                 `json:"page_count,omitempty"`
	Status              DocumentStatus      `json:"status"`
	PlannedUnits        int                 `json:"planned_units"`
	CompletedUnits      int                 `json:"completed_units"`
	TotalQuestions      int                 `json:"total_questions"`
	CompletedWithErrors bool                `json:"completed_with_errors"`
	CreatedAt           time.Time           `json:"created_at"`
	LastAccessedAt      time.Time           `json:"last_accessed_at"`
}

// ToResponse converts Document to DocumentResponse
func (d *Document) ToResponse() *DocumentResponse {
	return &DocumentResponse{
		ID:                  d.ID,
		Fingerprint:         d.Fingerprint,
		DisplayName:         d.DisplayName,
		ContentType:         d.ContentType,
		ByteSize:            d.ByteSize,
		PageCount:           d.PageCount,
		Status:              d.Status,
		PlannedUnits:        d.PlannedUnits,
		CompletedUnits:      d.CompletedUnits,
		TotalQuestions:      d.TotalQuestions,
		CompletedWithErrors: d.CompletedWithErrors,
		CreatedAt:           d.CreatedAt,
		LastAccessedAt:      d.LastAccessedAt,
	}
}

// DocumentSummary is the metadata-without-content view consumed by listings
// and by the transfer export surface
type DocumentSummary struct {
	Fingerprint         string              `json:"fingerprint"`
	DisplayName         string              `json:"display_name"`
	ContentType         DocumentContentType `json:"content_type"`
	ByteSize            int64               `json:"byte_size"`
	PageCount           int                 `json:"page_count,omitempty"`
	Status              DocumentStatus      `json:"status"`
	PlannedUnits        int                 `json:"planned_units"`
	CompletedUnits      int                 `json:"completed_units"`
	TotalQuestions      int                 `json:"total_questions"`
	CompletedWithErrors bool                `json:"completed_with_errors"`
	CreatedAt           time.Time           `json:"created_at"`
}

// ToSummary converts Document to DocumentSummary
func (d *Document) ToSummary() DocumentSummary {
	return DocumentSummary{
		Fingerprint:         d.Fingerprint,
		DisplayName:         d.DisplayName,
		ContentType:         d.ContentType,
		ByteSize:            d.ByteSize,
		PageCount:           d.PageCount,
		Status:              d.Status,
		PlannedUnits:        d.PlannedUnits,
		CompletedUnits:      d.CompletedUnits,
		TotalQuestions:      d.TotalQuestions,
		CompletedWithErrors: d.CompletedWithErrors,
		CreatedAt:           d.CreatedAt,
	}
}
