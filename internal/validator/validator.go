package validator

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/metinatakli/seat-hold-coordinator/api"
)

const (
	ErrRequired       = "is required"
	ErrMinLength      = "must contain at least %s item(s)"
	ErrMaxLength      = "must contain at most %s item(s)"
	ErrMinChars       = "must be at least %s characters long"
	ErrMaxChars       = "must be at most %s characters long"
	ErrUUID           = "must be a valid UUID"
	ErrOneOf          = "must be one of: %s"
	ErrGreaterThan    = "must be greater than %s"
	ErrDefaultInvalid = "is invalid"
)

func NewValidator() *validator.Validate {
	validator := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names so messages match what the client sent.
	validator.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	validator.RegisterStructValidation(validateClientMessage, api.ClientMessage{})

	return validator
}

// validateClientMessage requires a unit ID for every message that targets a
// single unit.
func validateClientMessage(sl validator.StructLevel) {
	msg := sl.Current().Interface().(api.ClientMessage)

	switch msg.Type {
	case api.HoldUnit, api.RenewHold, api.ReleaseUnit:
		if msg.UnitId == "" {
			sl.ReportError(msg.UnitId, "unitId", "UnitId", "required", "")
		}
	}
}

// ValidationMessage converts validator errors into readable messages
func ValidationMessage(err validator.FieldError) string {
	isCollection := err.Kind() == reflect.Slice || err.Kind() == reflect.Map

	switch err.Tag() {
	case "required":
		return ErrRequired
	case "min":
		if isCollection {
			return fmt.Sprintf(ErrMinLength, err.Param())
		}
		return fmt.Sprintf(ErrMinChars, err.Param())
	case "max":
		if isCollection {
			return fmt.Sprintf(ErrMaxLength, err.Param())
		}
		return fmt.Sprintf(ErrMaxChars, err.Param())
	case "uuid":
		return ErrUUID
	case "oneof":
		return fmt.Sprintf(ErrOneOf, strings.ReplaceAll(err.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf(ErrGreaterThan, err.Param())
	default:
		return ErrDefaultInvalid
	}
}
