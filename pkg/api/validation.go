package api

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldErrors turns a validation failure into field -> message.
func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		out["_"] = "invalid request body"
		return out
	}
	for _, fe := range ve {
		out[fe.Field()] = messageForTag(fe.Tag(), fe.Param())
	}
	return out
}

func messageForTag(tag, param string) string {
	switch tag {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + param + " characters"
	case "gte":
		return "must be at least " + param
	case "oneof":
		return "must be one of: " + param
	default:
		return "is invalid"
	}
}
