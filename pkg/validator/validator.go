package validator

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// ValidationError is one failed rule on one field. Field carries the json
// tag name so handlers can echo it straight back to clients.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

// ValidationErrors is the full set of failures for a payload.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}

	parts := make([]string, len(v))
	for i, failure := range v {
		if failure.Param != "" {
			parts[i] = failure.Field + " failed on " + failure.Tag + "=" + failure.Param
		} else {
			parts[i] = failure.Field + " failed on " + failure.Tag
		}
	}
	return strings.Join(parts, "; ")
}

// ValidateStruct runs the struct's validate tags. Rule failures come back as
// ValidationErrors; anything else is an internal validator error.
func ValidateStruct(s any) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	if ve, ok := err.(validator.ValidationErrors); ok {
		failures := make(ValidationErrors, 0, len(ve))
		for _, fe := range ve {
			failures = append(failures, ValidationError{
				Field: fe.Field(),
				Tag:   fe.Tag(),
				Param: fe.Param(),
			})
		}
		return failures
	}

	return err
}

// RegisterValidation adds a custom rule under the given tag.
func RegisterValidation(tag string, fn validator.Func) error {
	return getValidator().RegisterValidation(tag, fn)
}

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		// Report fields by their json names, matching what clients sent.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := fld.Tag.Get("json")
			if comma := strings.Index(name, ","); comma != -1 {
				name = name[:comma]
			}
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}
