package appeals

import (
	"github.com/servineo/client-go/pkg/enums"
	"github.com/servineo/client-go/pkg/pagination"
)

// CreateAppealRequest is the subject-side creation payload.
type CreateAppealRequest struct {
	Type    enums.AppealType `json:"type" validate:"required"`
	Reason  string           `json:"reason" validate:"required,max=120"`
	Details *string          `json:"details,omitempty" validate:"omitempty,max=2000"`
}

// ResolveRequest is the operator-side review payload. AdminNotes is
// mandatory when rejecting: a rejection without a stated reason is a
// validation failure, never silently defaulted.
type ResolveRequest struct {
	Status     enums.AppealStatus `json:"status" validate:"required"`
	AdminNotes *string            `json:"adminNotes,omitempty"`
}

// ListFilter narrows the operator listing.
type ListFilter struct {
	Status enums.AppealStatus
	Type   enums.AppealType
	Page   pagination.Params
}
