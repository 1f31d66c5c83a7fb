// Package validator wraps go-playground/validator with JSON field naming and the
// dashboard's custom rules.
package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// StoreTypes lists the values accepted by the storetype rule.
var StoreTypes = []string{"retail", "trade"}

var (
	once     sync.Once
	validate *validator.Validate
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field string `json:"field"`
	// Path is the JSON path below the validated struct, e.g. shopifyData[retail].today.
	Path  string `json:"path"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

// ValidationErrors collects multiple validation failures.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}

	parts := make([]string, len(v))
	for i, err := range v {
		parts[i] = err.Path + " failed on " + err.Tag
		if err.Param != "" {
			parts[i] += "=" + err.Param
		}
	}
	return strings.Join(parts, "; ")
}

// ValidateStruct validates a struct using registered rules.
func ValidateStruct(s interface{}) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}

	failures := make(ValidationErrors, 0, len(ve))
	for _, fe := range ve {
		failures = append(failures, ValidationError{
			Field: fe.Field(),
			Path:  relativePath(fe.Namespace()),
			Tag:   fe.Tag(),
			Param: fe.Param(),
		})
	}
	return failures
}

// relativePath drops the root struct name from a validator namespace.
func relativePath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return fld.Name
	}
	return name
}

func validStoreType(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	for _, st := range StoreTypes {
		if value == st {
			return true
		}
	}
	return false
}

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonFieldName)
		_ = validate.RegisterValidation("storetype", validStoreType)
	})
	return validate
}
