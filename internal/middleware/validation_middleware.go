package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"trustlayer-backend-go/internal/models"
)

// FieldRules names the inputs a request must carry. Violations are collected
// across all rules so the client sees every problem in one response.
type FieldRules struct {
	BodyFields  []string
	QueryParams []string
	PathParams  []string
}

// ValidateRequest is the pipeline's validation stage. The request body is
// re-buffered so the handler can still bind it.
func ValidateRequest(rules FieldRules) gin.HandlerFunc {
	return func(c *gin.Context) {
		var violations []string

		if len(rules.BodyFields) > 0 {
			raw, err := io.ReadAll(c.Request.Body)
			if err == nil {
				c.Request.Body = io.NopCloser(bytes.NewReader(raw))
			}

			var body map[string]interface{}
			if err != nil || json.Unmarshal(raw, &body) != nil {
				violations = append(violations, "request body must be a JSON object")
			} else {
				for _, field := range rules.BodyFields {
					if value, ok := body[field]; !ok || value == nil || value == "" {
						violations = append(violations, fmt.Sprintf("body field %q is required", field))
					}
				}
			}
		}

		for _, param := range rules.QueryParams {
			if c.Query(param) == "" {
				violations = append(violations, fmt.Sprintf("query parameter %q is required", param))
			}
		}
		for _, param := range rules.PathParams {
			if c.Param(param) == "" {
				violations = append(violations, fmt.Sprintf("path parameter %q is required", param))
			}
		}

		if len(violations) > 0 {
			abortWithError(c, http.StatusBadRequest, models.ErrTypeValidation, "Request validation failed", violations)
			return
		}
		c.Next()
	}
}
