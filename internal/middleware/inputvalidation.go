// Package middleware provides HTTP middleware for the control plane's
// REST surface. This file implements path-traversal guarding and
// free-text sanitization of user-editable labels (sensorLabel,
// fanLabel, profileName, system name) before they reach the database
// and later render in the dashboard.
package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
)

// InputValidator guards request paths and sanitizes free text.
type InputValidator struct {
	sanitizer *bluemonday.Policy
}

// NewInputValidator creates a validator using bluemonday's strict
// policy, which strips all HTML.
func NewInputValidator() *InputValidator {
	return &InputValidator{sanitizer: bluemonday.StrictPolicy()}
}

// Middleware rejects requests whose path contains a traversal attempt
// or a null byte.
func (v *InputValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := v.validatePath(c.Request.URL.Path); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid path", "message": err.Error()})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (v *InputValidator) validatePath(path string) error {
	lowerPath := strings.ToLower(path)
	for _, pattern := range []string{"../", "..\\", "/..", "\\..", "%2e%2e", "..%2f", "..%5c"} {
		if strings.Contains(lowerPath, pattern) {
			return fmt.Errorf("path traversal attempt detected")
		}
	}
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("null byte detected in path")
	}
	return nil
}

// SanitizeString strips HTML and dangerous content from user-supplied
// free text before it is persisted.
func (v *InputValidator) SanitizeString(input string) string {
	return v.sanitizer.Sanitize(input)
}
