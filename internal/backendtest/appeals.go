package backendtest

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/servineo/client-go/pkg/enums"
	"github.com/servineo/client-go/pkg/types"
)

func (s *Server) handleCreateAppeal(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req struct {
		Type    string  `json:"type"`
		Reason  string  `json:"reason"`
		Details *string `json:"details,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	appealType, err := enums.ParseAppealType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid appeal type")
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "reason is required")
		return
	}
	if !statusMatchesType(snap, appealType) {
		writeError(w, http.StatusUnprocessableEntity, "STATE_CONFLICT", "appeal type does not match account status")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Check-and-insert under the lock: two rapid duplicates cannot both pass.
	for _, appeal := range s.appeals {
		if appeal.SubjectUserID == snap.ID && appeal.Status.IsOpen() {
			writeError(w, http.StatusConflict, "CONFLICT", "an appeal is already under review")
			return
		}
	}

	appeal := &types.Appeal{
		ID:            uuid.New(),
		SubjectUserID: snap.ID,
		Type:          appealType,
		Reason:        req.Reason,
		Details:       req.Details,
		Status:        enums.AppealStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	if appealType.IsProviderScoped() && snap.Provider != nil {
		providerID := snap.Provider.ID
		appeal.SubjectProviderID = &providerID
	}
	s.appeals = append(s.appeals, appeal)
	writeJSON(w, http.StatusCreated, appeal)
}

func (s *Server) handleMyAppeals(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	mine := make([]types.Appeal, 0)
	for _, appeal := range s.appeals {
		if appeal.SubjectUserID == snap.ID {
			mine = append(mine, *appeal)
		}
	}
	sort.Slice(mine, func(i, j int) bool {
		return mine[i].CreatedAt.After(mine[j].CreatedAt)
	})
	writeJSON(w, http.StatusOK, mine)
}

func (s *Server) handleListAppeals(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if snap.AccountRole != enums.AccountRoleAdmin {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "admin only")
		return
	}

	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	limit, _ := strconv.Atoi(query.Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 25
	}
	statusFilter := query.Get("status")
	typeFilter := query.Get("type")

	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]types.Appeal, 0)
	for _, appeal := range s.appeals {
		if statusFilter != "" && string(appeal.Status) != statusFilter {
			continue
		}
		if typeFilter != "" && string(appeal.Type) != typeFilter {
			continue
		}
		matched = append(matched, *appeal)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := (page - 1) * limit
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	writeJSON(w, http.StatusOK, types.PagedAppeals{
		Appeals: matched[start:end],
		Total:   total,
		Page:    page,
		Limit:   limit,
	})
}

func (s *Server) handleReviewAppeal(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if snap.AccountRole != enums.AccountRoleAdmin {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "admin only")
		return
	}

	appealID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid appeal id")
		return
	}

	var req struct {
		Status     string  `json:"status"`
		AdminNotes *string `json:"adminNotes,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	next, err := enums.ParseAppealStatus(req.Status)
	if err != nil || next == enums.AppealStatusPending {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid review status")
		return
	}
	if next == enums.AppealStatusRejected && (req.AdminNotes == nil || *req.AdminNotes == "") {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "adminNotes is required when rejecting")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var appeal *types.Appeal
	for _, candidate := range s.appeals {
		if candidate.ID == appealID {
			appeal = candidate
			break
		}
	}
	if appeal == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "appeal not found")
		return
	}
	if !appeal.Status.CanTransitionTo(next) {
		writeError(w, http.StatusUnprocessableEntity, "STATE_CONFLICT", "appeal already resolved")
		return
	}

	now := time.Now().UTC()
	reviewer := snap.ID
	appeal.Status = next
	appeal.AdminNotes = req.AdminNotes
	appeal.ReviewedBy = &reviewer
	appeal.ReviewedAt = &now

	if next == enums.AppealStatusApproved {
		s.applyApprovalLocked(appeal)
	}
	writeJSON(w, http.StatusOK, appeal)
}

// applyApprovalLocked flips the subject's authoritative status. The appeal
// record itself stays an audit entry; the flip is the backend side effect
// the client observes on its next identity refresh.
func (s *Server) applyApprovalLocked(appeal *types.Appeal) {
	subject, ok := s.users[appeal.SubjectUserID]
	if !ok {
		return
	}
	switch appeal.Type {
	case enums.AppealTypeUnbanRequest:
		subject.AccountStatus = enums.AccountStatusActive
		subject.BanReason = nil
		subject.BannedAt = nil
	case enums.AppealTypeSuspension:
		if subject.Provider != nil {
			subject.Provider.Status = enums.ProviderStatusApproved
		}
	case enums.AppealTypeRejection:
		// Approved rejection appeals re-enter vetting rather than skipping it.
		if subject.Provider != nil {
			subject.Provider.Status = enums.ProviderStatusPending
			subject.Provider.RejectionReason = nil
		}
	}
}

// statusMatchesType enforces the creation precondition: the appeal must
// contest the restriction the subject is actually under.
func statusMatchesType(snap types.IdentitySnapshot, appealType enums.AppealType) bool {
	switch appealType {
	case enums.AppealTypeUnbanRequest:
		return snap.AccountStatus == enums.AccountStatusBanned
	case enums.AppealTypeSuspension:
		return snap.AccountStatus == enums.AccountStatusActive &&
			snap.ProviderStatus() == enums.ProviderStatusSuspended
	case enums.AppealTypeRejection:
		return snap.AccountStatus == enums.AccountStatusActive &&
			snap.ProviderStatus() == enums.ProviderStatusRejected
	default:
		return true
	}
}
