package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/opsdash/pkg/errors"
	"github.com/charlesng35/opsdash/pkg/response"
	appValidator "github.com/charlesng35/opsdash/pkg/validator"
)

// requestContext returns the request context, or Background for bare test contexts.
func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When either fails an error response is written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest(formatValidationError(err)))
		return false
	}

	return true
}

func formatValidationError(err error) string {
	var ve appValidator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return "invalid request payload"
	}

	messages := make([]string, 0, len(ve))
	for _, failure := range ve {
		field := failure.Path
		if field == "" {
			field = failure.Field
		}
		switch failure.Tag {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", field, failure.Param))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", field, failure.Param))
		case "storetype":
			messages = append(messages, fmt.Sprintf("%s must be one of %s", field, strings.Join(appValidator.StoreTypes, ", ")))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation: %s", field, failure.Tag))
		}
	}
	return strings.Join(messages, "; ")
}
