package authapi

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage renders validator errors as one client-facing sentence.
func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return "invalid request"
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "email":
			msgs = append(msgs, "invalid email format")
		case "max":
			msgs = append(msgs, field+" must be at most "+fe.Param()+" characters")
		case "len":
			msgs = append(msgs, field+" must be exactly "+fe.Param()+" characters")
		case "numeric":
			msgs = append(msgs, field+" must contain only digits")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, ", ")
}
