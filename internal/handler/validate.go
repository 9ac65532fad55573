package handler

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pitchside/pitchside/internal/domain"
)

var validate = newValidator()

// newValidator builds the shared validator, reporting failures under the
// field's JSON name rather than its Go name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks a decoded request body against its `validate` struct tags
// and converts failures into a domain.ValidationError keyed by the JSON
// field name.
func Validate(op string, v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return domain.WrapError(err, domain.EINVALID, op, "invalid request body")
	}

	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = validationMessage(fe)
	}
	return &domain.ValidationError{Op: op, Fields: fields}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "dive":
		return "contains an invalid entry"
	default:
		return "is invalid"
	}
}
