package core

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"pushpoint/internal/types"
)

// pushTokenPattern mirrors the transport's destination shape check so
// request validation can reject dead-on-arrival tokens before any work
// happens.
var pushTokenPattern = regexp.MustCompile(`^Expo(nent)?PushToken\[[^\]]+\]$`)

// Validator wraps go-playground/validator with the domain-specific tags:
//
//	push_token  - Expo push token shape
//	day_of_week - integer in [0, 6], 0 = Sunday
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers the custom tags.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Tag registration cannot fail for valid tag names; ignore the error to
	// keep the constructor signature simple.
	_ = v.RegisterValidation("push_token", func(fl validator.FieldLevel) bool {
		return pushTokenPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("day_of_week", func(fl validator.FieldLevel) bool {
		return types.ValidDayOfWeek(int(fl.Field().Int()))
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct validates s against its struct tags. Returns nil when the
// struct passes, or a *types.AppError whose Details map field names to the
// failed constraint.
func (v *Validator) ValidateStruct(s interface{}) *types.AppError {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		// InvalidValidationError: the caller passed something that is not a
		// struct. That is a programming error, not client input.
		v.logger.Error("validator received non-struct value", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "internal validation failure", err)
	}

	details := make(map[string]any, len(validationErrs))
	for _, fe := range validationErrs {
		details[fieldName(fe)] = constraintMessage(fe)
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		"request validation failed",
		nil,
		details,
	)
}

// fieldName renders the field path without the leading struct type name,
// lowercased to match JSON field conventions.
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}

func constraintMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "push_token":
		return "must be a well-formed push token"
	case "day_of_week":
		return "must be between 0 (Sunday) and 6 (Saturday)"
	case "min":
		return "below minimum " + fe.Param()
	case "max":
		return "exceeds maximum " + fe.Param()
	default:
		return "failed constraint: " + fe.Tag()
	}
}
