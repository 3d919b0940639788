// Package validator provides struct-tag request validation for the
// HTTP surface, on top of go-playground/validator.
package validator

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("steppercent", validateStepPercent)
}

// ValidateStruct validates s against its `validate` struct tags.
func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// ValidateRequest validates s and returns a field->message map, or nil
// if validation passed.
func ValidateRequest(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	errs := make(map[string]string)
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			errs[strings.ToLower(e.Field())] = formatValidationError(e)
		}
	}
	return errs
}

// BindAndValidate binds a JSON body into req and validates it,
// writing a 400 response and returning false on either failure.
func BindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return false
	}

	if errs := ValidateRequest(req); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": errs})
		return false
	}

	return true
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "steppercent":
		return "must be one of: 3, 5, 10, 15, 25, 50, 100"
	default:
		return fmt.Sprintf("validation failed: %s", e.Tag())
	}
}

// validateStepPercent enforces the allowed fan-step quantization set.
func validateStepPercent(fl validator.FieldLevel) bool {
	v := int(fl.Field().Int())
	for _, allowed := range []int{3, 5, 10, 15, 25, 50, 100} {
		if v == allowed {
			return true
		}
	}
	return false
}
