package crypto

import (
	"fmt"
	"strings"
	"unicode"
)

// PasswordPolicy describes which rules a password must satisfy. Every rule is
// independently toggleable; a zero MinLength disables the length rule.
type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireDigit     bool
	RequireSymbol    bool
}

// DefaultPasswordPolicy is a reasonable baseline for operator-facing
// credentials.
var DefaultPasswordPolicy = PasswordPolicy{
	MinLength:        12,
	RequireUppercase: true,
	RequireLowercase: true,
	RequireDigit:     true,
	RequireSymbol:    true,
}

// PasswordValidationResult carries every violated rule, not just the first,
// so a caller can present the full list to the user at once.
type PasswordValidationResult struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors,omitempty"`
}

// ValidatePasswordPolicy checks password against policy and reports all
// violations.
func ValidatePasswordPolicy(password string, policy PasswordPolicy) PasswordValidationResult {
	var violations []string

	if policy.MinLength > 0 && len(password) < policy.MinLength {
		violations = append(violations, fmt.Sprintf("password must be at least %d characters long", policy.MinLength))
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}

	if policy.RequireUppercase && !hasUpper {
		violations = append(violations, "password must contain an uppercase letter")
	}
	if policy.RequireLowercase && !hasLower {
		violations = append(violations, "password must contain a lowercase letter")
	}
	if policy.RequireDigit && !hasDigit {
		violations = append(violations, "password must contain a digit")
	}
	if policy.RequireSymbol && !hasSymbol {
		violations = append(violations, "password must contain a symbol")
	}

	return PasswordValidationResult{
		IsValid: len(violations) == 0,
		Errors:  violations,
	}
}

// SanitizeInput strips control characters and trims surrounding whitespace.
// Intended for values that end up in log or audit metadata, where embedded
// newlines or escape sequences could forge log entries.
func SanitizeInput(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
