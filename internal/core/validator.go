package core

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"sweeper/internal/types"
)

// Validator wraps go-playground/validator and translates validation failures
// into AppErrors with per-field details.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator.
func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{
		validate: validator.New(),
		logger:   logger,
	}
}

// ValidateStruct validates dst against its `validate` tags. On failure it
// returns a *types.AppError with code "validation_missing_required_field"
// for required-tag failures and "validation_invalid_body" otherwise, with a
// details map of field name to the failed rule.
func (v *Validator) ValidateStruct(dst any) error {
	err := v.validate.Struct(dst)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"validation failed for an unexpected reason",
			err,
		)
	}

	details := make(map[string]any, len(validationErrs))
	allRequired := true
	for _, fe := range validationErrs {
		details[strings.ToLower(fe.Field())] = fe.Tag()
		if fe.Tag() != "required" {
			allRequired = false
		}
	}

	code := types.ErrCodeValidationInvalidBody
	message := "request body failed validation"
	if allRequired {
		code = types.ErrCodeValidationMissingField
		message = "required fields are missing"
	}

	return types.NewAppErrorWithDetails(code, message, err, details)
}
