package types

import (
	"time"

	"github.com/google/uuid"

	"github.com/servineo/client-go/pkg/enums"
)

// Appeal is a subject-initiated request to reverse a restrictive status.
// Appeals are audit records: the backend never deletes them, and resolution
// is a one-way transition.
type Appeal struct {
	ID                uuid.UUID          `json:"id"`
	SubjectUserID     uuid.UUID          `json:"subjectUserId"`
	SubjectProviderID *uuid.UUID         `json:"subjectProviderId,omitempty"`
	Type              enums.AppealType   `json:"type"`
	Reason            string             `json:"reason"`
	Details           *string            `json:"details,omitempty"`
	Status            enums.AppealStatus `json:"status"`
	AdminNotes        *string            `json:"adminNotes,omitempty"`
	ReviewedBy        *uuid.UUID         `json:"reviewedBy,omitempty"`
	ReviewedAt        *time.Time         `json:"reviewedAt,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
}

// PagedAppeals is the operator-side listing page.
type PagedAppeals struct {
	Appeals []Appeal `json:"appeals"`
	Total   int64    `json:"total"`
	Page    int      `json:"page"`
	Limit   int      `json:"limit"`
}
