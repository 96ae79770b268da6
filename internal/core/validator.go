package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"shutterdesk/internal/types"
)

// Validator wraps go-playground/validator for request DTO validation.
// Handlers call ValidateStruct after DecodeJSON; failures come back as typed
// AppErrors so the response layer maps them to 400s with field details.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator using struct field json tags for
// error reporting, so clients see the wire names they sent.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct validates the DTO against its validate tags and translates
// failures into a single AppError carrying a per-field details map.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		// Non-struct input is a programming error, not a client error.
		return types.NewAppError(types.ErrCodeInternalUnexpected, "invalid validation target", err)
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	details := make(map[string]any, len(fieldErrs))
	code := types.ErrCodeValidationInvalidField
	for _, fe := range fieldErrs {
		details[fe.Field()] = describeRule(fe)
		switch fe.Tag() {
		case "required":
			code = types.ErrCodeValidationMissingField
		case "email":
			code = types.ErrCodeValidationInvalidEmail
		}
	}

	return types.NewAppErrorWithDetails(code, "request validation failed", err, details)
}

// describeRule renders a short human-readable reason for one failed rule.
func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed rule: " + fe.Tag()
	}
}
