package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/campusmart/marketplace-backend/internal/config"
	"github.com/campusmart/marketplace-backend/internal/models"
	"github.com/go-playground/validator/v10"
)

// ValidationError describes one rejected payload field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// ValidationErrors collects every rejected field of a payload
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	messages := make([]string, 0, len(v))
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// PayloadValidator checks request payload shape and bounds
type PayloadValidator struct {
	validate *validator.Validate
	limits   config.BookingConfig
}

// NewPayloadValidator creates a validator with the configured booking limits
func NewPayloadValidator(limits config.BookingConfig) *PayloadValidator {
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)
	return &PayloadValidator{validate: v, limits: limits}
}

// ValidateCreateListing checks a listing payload. Listings that expire on
// schedule must be scheduled after now.
func (pv *PayloadValidator) ValidateCreateListing(p *models.CreateListingRequest, now time.Time) error {
	fields := pv.structErrors(p)
	if !p.Kind.IsValid() {
		fields = append(fields, ValidationError{Field: "kind", Message: fmt.Sprintf("unknown listing kind %q", p.Kind)})
	}
	if strings.TrimSpace(p.Title) == "" && !hasField(fields, "title") {
		fields = append(fields, ValidationError{Field: "title", Message: "is required"})
	}
	if spec, ok := p.Kind.Spec(); ok {
		if spec.CapacityMode == models.CapacityCounted && p.TotalCapacity < 1 {
			fields = append(fields, ValidationError{Field: "total_capacity", Message: fmt.Sprintf("must be at least 1 for %s", spec.Kind)})
		}
		switch {
		case spec.ExpiresOnSchedule && p.ScheduledAt == nil:
			fields = append(fields, ValidationError{Field: "scheduled_at", Message: fmt.Sprintf("is required for %s", spec.Kind)})
		case spec.ExpiresOnSchedule && !p.ScheduledAt.After(now):
			fields = append(fields, ValidationError{Field: "scheduled_at", Message: "must be in the future"})
		}
	}
	if len(fields) > 0 {
		return validationFailed(fields)
	}
	return nil
}

// ValidateCreateRequest checks the parts of a booking request payload that do
// not depend on the listing
func (pv *PayloadValidator) ValidateCreateRequest(p *models.CreateBookingRequestPayload) error {
	fields := pv.structErrors(p)
	if strings.TrimSpace(p.Message) == "" && !hasField(fields, "message") {
		fields = append(fields, ValidationError{Field: "message", Message: "is required"})
	}
	if n := utf8.RuneCountInString(p.Message); n > pv.limits.MessageMaxLength {
		fields = append(fields, ValidationError{Field: "message", Message: fmt.Sprintf("must be at most %d characters", pv.limits.MessageMaxLength)})
	}
	if strings.TrimSpace(p.ContactMethod) == "" && !hasField(fields, "contact_method") {
		fields = append(fields, ValidationError{Field: "contact_method", Message: "is required"})
	}
	if len(fields) > 0 {
		return validationFailed(fields)
	}
	return nil
}

// ResolveQuantity applies the kind-specific quantity rules and returns the
// number of units requested. The ride check against total seats is a soft
// pre-check; acceptance re-validates against remaining capacity.
func (pv *PayloadValidator) ResolveQuantity(spec models.KindSpec, listing *models.Listing, requested *int) (int, error) {
	if spec.CapacityMode == models.CapacityBinary {
		if requested != nil && *requested != 1 {
			return 0, invalidField("quantity", fmt.Sprintf("a %s request is always for exactly 1", spec.UnitLabel))
		}
		return 1, nil
	}

	quantity := 1
	if requested != nil {
		quantity = *requested
	}
	if quantity < 1 {
		return 0, invalidField("quantity", "must be a positive integer")
	}

	switch spec.Kind {
	case models.ListingKindTicketLot:
		if quantity > pv.limits.MaxTicketQuantity {
			return 0, invalidField("quantity", fmt.Sprintf("at most %d tickets per request", pv.limits.MaxTicketQuantity))
		}
	case models.ListingKindRide:
		if quantity > pv.limits.MaxSeatQuantity {
			return 0, invalidField("quantity", fmt.Sprintf("at most %d seats per request", pv.limits.MaxSeatQuantity))
		}
		if quantity > listing.TotalCapacity {
			return 0, invalidField("quantity", fmt.Sprintf("requested %d seats but the ride only has %d", quantity, listing.TotalCapacity))
		}
	}
	return quantity, nil
}

// ValidateRespond checks an owner's response payload
func (pv *PayloadValidator) ValidateRespond(p *models.RespondPayload) error {
	fields := pv.structErrors(p)
	if p.Decision == models.DecisionReject && (p.AgreedQuantity != nil || p.AgreedPrice != nil) {
		fields = append(fields, ValidationError{Field: "decision", Message: "agreed terms only apply to an acceptance"})
	}
	if len(fields) > 0 {
		return validationFailed(fields)
	}
	return nil
}

func (pv *PayloadValidator) structErrors(s interface{}) ValidationErrors {
	err := pv.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidationErrors{{Field: "payload", Message: err.Error()}}
	}

	fields := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, ValidationError{Field: fe.Field(), Message: describeTag(fe)})
	}
	return fields
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "" || name == "-" {
		return fld.Name
	}
	return name
}

func hasField(fields ValidationErrors, name string) bool {
	for _, f := range fields {
		if f.Field == name {
			return true
		}
	}
	return false
}
