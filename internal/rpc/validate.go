package rpc

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInst = validator.New()
	})
	return validatorInst
}

// BindParams unmarshals raw into dst and runs struct-tag validation on it,
// returning a single *DomainError of KindInvalidParams describing the first
// problem found. Every method handler's params struct uses `json` tags for
// field names and `validate` tags (required, oneof=..., min=..., etc.) for
// the constraints each method's params require (required fields, enums,
// bounds).
func BindParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return NewInvalidParams("invalid parameters: %v", err)
	}
	if err := validatorInstance().Struct(dst); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return NewInvalidParams("%s", describeValidationError(verrs[0]))
		}
		return NewInvalidParams("invalid parameters: %v", err)
	}
	return nil
}

func describeValidationError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}
