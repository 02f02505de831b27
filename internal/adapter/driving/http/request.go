package httphandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate decodes the JSON body into v and validates its struct
// tags. It writes a 400 response and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// PostCheckRequest is the JSON body for creating or updating a check.
// Omitted fields are left untouched; an empty message or url clears it.
type PostCheckRequest struct {
	CheckerUUID string     `json:"checker_uuid" validate:"required"`
	State       *string    `json:"state"`
	Message     *string    `json:"message" validate:"omitempty,max=10000"`
	URL         *string    `json:"url" validate:"omitempty,max=2048"`
	Started     *time.Time `json:"started"`
	Finished    *time.Time `json:"finished"`
}

func (req PostCheckRequest) toUpdate() (model.CheckUpdate, error) {
	update := model.CheckUpdate{
		Message:  req.Message,
		URL:      req.URL,
		Started:  req.Started,
		Finished: req.Finished,
	}
	if req.State != nil {
		state, ok := model.ParseCheckState(*req.State)
		if !ok {
			return update, fmt.Errorf("invalid state %q", *req.State)
		}
		update.State = &state
	}
	return update, nil
}

// OverrideRequest is the JSON body for overriding a check.
type OverrideRequest struct {
	Overrider string `json:"overrider" validate:"required,max=255"`
	Reason    string `json:"reason" validate:"required,max=300"`
}

// CheckerFields are the mutable checker properties. Omitted fields are left
// untouched; an empty string unsets an optional property.
type CheckerFields struct {
	Name        *string   `json:"name" validate:"omitempty,max=255"`
	Description *string   `json:"description" validate:"omitempty,max=1000"`
	URL         *string   `json:"url" validate:"omitempty,max=2048"`
	Repository  *string   `json:"repository" validate:"omitempty,max=255"`
	Status      *string   `json:"status"`
	Blocking    *[]string `json:"blocking"`
	Query       *string   `json:"query" validate:"omitempty,max=1000"`
}

// CreateCheckerRequest is the JSON body for creating a checker.
type CreateCheckerRequest struct {
	UUID string `json:"uuid" validate:"required"`
	CheckerFields
}

func (f CheckerFields) toUpdate() (model.CheckerUpdate, error) {
	update := model.CheckerUpdate{
		Name:        f.Name,
		Description: f.Description,
		URL:         f.URL,
		Repository:  f.Repository,
		Query:       f.Query,
	}
	if f.Status != nil {
		status, ok := model.ParseCheckerStatus(*f.Status)
		if !ok {
			return update, fmt.Errorf("invalid status %q", *f.Status)
		}
		update.Status = &status
	}
	if f.Blocking != nil {
		bcs := make([]model.BlockingCondition, 0, len(*f.Blocking))
		for _, raw := range *f.Blocking {
			bc, ok := model.ParseBlockingCondition(raw)
			if !ok {
				return update, fmt.Errorf("invalid blocking condition %q", raw)
			}
			bcs = append(bcs, bc)
		}
		update.BlockingConditions = &bcs
	}
	return update, nil
}
