// Package appeals is the client for the reinstatement workflow: subjects
// create and list their appeals, operators list and resolve everyone's. The
// backend owns the records and their invariants; this layer validates before
// any state mutation and maps backend replies onto the typed error taxonomy.
package appeals

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/servineo/client-go/pkg/enums"
	pkgerrors "github.com/servineo/client-go/pkg/errors"
	"github.com/servineo/client-go/pkg/metrics"
	"github.com/servineo/client-go/pkg/types"
)

// Service defines the appeal workflow surface consumers may call.
type Service interface {
	Create(ctx context.Context, req CreateAppealRequest) (*types.Appeal, error)
	MyAppeals(ctx context.Context) ([]types.Appeal, error)
	HasPending(ctx context.Context) (bool, error)
	List(ctx context.Context, filter ListFilter) (*types.PagedAppeals, error)
	Resolve(ctx context.Context, id uuid.UUID, req ResolveRequest) (*types.Appeal, error)
}

// apiClient is the slice of the transport manager this service needs.
type apiClient interface {
	JSON(ctx context.Context, method, path string, body, out any) error
}

type service struct {
	api     apiClient
	metrics *metrics.SessionMetrics
}

// ServiceParams bundles the dependencies required to build the service.
type ServiceParams struct {
	API     apiClient
	Metrics *metrics.SessionMetrics
}

// NewService constructs an appeal workflow client.
func NewService(params ServiceParams) (Service, error) {
	if params.API == nil {
		return nil, fmt.Errorf("api client is required")
	}
	return &service{
		api:     params.API,
		metrics: params.Metrics,
	}, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

func (s *service) Create(ctx context.Context, req CreateAppealRequest) (*types.Appeal, error) {
	if err := validate.Struct(req); err != nil {
		return nil, formatValidationErrors(err)
	}
	if !req.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid appeal type").
			WithDetails(map[string]string{"type": "is invalid"})
	}

	var appeal types.Appeal
	if err := s.api.JSON(ctx, http.MethodPost, "/appeals", req, &appeal); err != nil {
		s.metrics.IncAppealOp("create", outcome(err))
		return nil, err
	}
	s.metrics.IncAppealOp("create", "ok")
	return &appeal, nil
}

func (s *service) MyAppeals(ctx context.Context) ([]types.Appeal, error) {
	var appeals []types.Appeal
	if err := s.api.JSON(ctx, http.MethodGet, "/appeals/my-appeals", nil, &appeals); err != nil {
		s.metrics.IncAppealOp("list_mine", outcome(err))
		return nil, err
	}
	s.metrics.IncAppealOp("list_mine", "ok")
	return appeals, nil
}

// HasPending reports whether the caller already has an open appeal. This is
// the flag consumers branch on before offering a new-appeal form.
func (s *service) HasPending(ctx context.Context) (bool, error) {
	appeals, err := s.MyAppeals(ctx)
	if err != nil {
		return false, err
	}
	for _, appeal := range appeals {
		if appeal.Status.IsOpen() {
			return true, nil
		}
	}
	return false, nil
}

func (s *service) List(ctx context.Context, filter ListFilter) (*types.PagedAppeals, error) {
	page := filter.Page.Normalize()
	query := url.Values{}
	query.Set("page", strconv.Itoa(page.Page))
	query.Set("limit", strconv.Itoa(page.Limit))
	if filter.Status != "" {
		if !filter.Status.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
		}
		query.Set("status", string(filter.Status))
	}
	if filter.Type != "" {
		if !filter.Type.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid type filter")
		}
		query.Set("type", string(filter.Type))
	}

	var paged types.PagedAppeals
	if err := s.api.JSON(ctx, http.MethodGet, "/appeals?"+query.Encode(), nil, &paged); err != nil {
		s.metrics.IncAppealOp("list", outcome(err))
		return nil, err
	}
	s.metrics.IncAppealOp("list", "ok")
	return &paged, nil
}

func (s *service) Resolve(ctx context.Context, id uuid.UUID, req ResolveRequest) (*types.Appeal, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "appeal id is required")
	}
	if err := validate.Struct(req); err != nil {
		return nil, formatValidationErrors(err)
	}
	switch req.Status {
	case "", // caught by required, kept for clarity
		enums.AppealStatusPending:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid review status").
			WithDetails(map[string]string{"status": "must be APPROVED, REJECTED, or UNDER_REVIEW"})
	case enums.AppealStatusApproved, enums.AppealStatusUnderReview:
	case enums.AppealStatusRejected:
		if req.AdminNotes == nil || strings.TrimSpace(*req.AdminNotes) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "adminNotes is required when rejecting").
				WithDetails(map[string]string{"adminNotes": "is required"})
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid review status")
	}

	var appeal types.Appeal
	if err := s.api.JSON(ctx, http.MethodPatch, "/appeals/"+id.String()+"/review", req, &appeal); err != nil {
		s.metrics.IncAppealOp("resolve", outcome(err))
		return nil, err
	}
	s.metrics.IncAppealOp("resolve", "ok")
	return &appeal, nil
}

func formatValidationErrors(err error) *pkgerrors.Error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	}
	return "is invalid"
}

func outcome(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return strings.ToLower(string(typed.Code()))
	}
	return "error"
}
