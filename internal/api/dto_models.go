package api

import (
	"time"

	"trustlayer-backend-go/internal/models"
)

// SetSecretRequest is the payload for creating or overwriting a secret.
type SetSecretRequest struct {
	Key                     string     `json:"key" binding:"required"`
	Value                   string     `json:"value" binding:"required"`
	Environment             string     `json:"environment" binding:"required"`
	Type                    string     `json:"type,omitempty" binding:"omitempty,oneof=api_key jwt_secret encryption_key generic"`
	Description             string     `json:"description,omitempty"`
	Tags                    []string   `json:"tags,omitempty"`
	ExpiresAt               *time.Time `json:"expiresAt,omitempty"`
	RotationIntervalSeconds int64      `json:"rotationIntervalSeconds,omitempty" binding:"omitempty,min=0"`
	Permissions             []string   `json:"permissions,omitempty"`
}

// RotateSecretRequest optionally carries an explicit replacement value; when
// absent the replacement is generated by the secret's type policy.
type RotateSecretRequest struct {
	NewValue string `json:"newValue,omitempty"`
}

// SecretValueResponse carries a decrypted secret value.
type SecretValueResponse struct {
	Key         string `json:"key"`
	Environment string `json:"environment"`
	Value       string `json:"value"`
}

// SetConfigRequest is the payload for creating or updating a configuration.
type SetConfigRequest struct {
	Key            string                 `json:"key" binding:"required"`
	Value          interface{}            `json:"value"`
	Environment    string                 `json:"environment" binding:"required"`
	Description    string                 `json:"description,omitempty"`
	Tags           []string               `json:"tags,omitempty"`
	IsSecret       bool                   `json:"isSecret,omitempty"`
	IsRequired     bool                   `json:"isRequired,omitempty"`
	DefaultValue   interface{}            `json:"defaultValue,omitempty"`
	ValidationRule *models.ValidationRule `json:"validationRule,omitempty"`
}

// FlagConditionRequest is the wire shape of one flag condition; Kind selects
// the variant and the matching field carries its parameters.
type FlagConditionRequest struct {
	Kind        string     `json:"kind" binding:"required,oneof=user role ip percentage date_window"`
	UserIDs     []string   `json:"userIds,omitempty"`
	Roles       []string   `json:"roles,omitempty"`
	IPAddresses []string   `json:"ipAddresses,omitempty"`
	Percentage  int        `json:"percentage,omitempty" binding:"omitempty,min=0,max=100"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
}

// toCondition maps the wire shape onto the closed condition set.
func (r FlagConditionRequest) toCondition() models.FlagCondition {
	switch r.Kind {
	case "user":
		return models.UserCondition{UserIDs: r.UserIDs}
	case "role":
		return models.RoleCondition{Roles: r.Roles}
	case "ip":
		return models.IPCondition{IPAddresses: r.IPAddresses}
	case "percentage":
		return models.PercentageCondition{Percentage: r.Percentage}
	case "date_window":
		cond := models.DateWindowCondition{}
		if r.Start != nil {
			cond.Start = *r.Start
		}
		if r.End != nil {
			cond.End = *r.End
		}
		return cond
	}
	return nil
}

// SetFeatureFlagRequest is the payload for creating or updating a flag.
type SetFeatureFlagRequest struct {
	Name        string                 `json:"name" binding:"required"`
	Enabled     bool                   `json:"enabled"`
	Environment string                 `json:"environment" binding:"required"`
	Conditions  []FlagConditionRequest `json:"conditions,omitempty" binding:"omitempty,dive"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// EvaluateFlagRequest carries the identity a flag is evaluated against.
type EvaluateFlagRequest struct {
	Environment string   `json:"environment" binding:"required"`
	UserID      string   `json:"userId,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	IPAddress   string   `json:"ipAddress,omitempty"`
}

// GenerateAPIKeyRequest is the payload for issuing an API key.
type GenerateAPIKeyRequest struct {
	Name        string            `json:"name" binding:"required"`
	Environment string            `json:"environment" binding:"required"`
	Scopes      []string          `json:"scopes,omitempty"`
	Permissions []string          `json:"permissions,omitempty"`
	RateLimit   *models.RateLimit `json:"rateLimit,omitempty"`
	ExpiresAt   *time.Time        `json:"expiresAt,omitempty"`
}

// CreateAlertRequest registers a named alert rule.
type CreateAlertRequest struct {
	Name     string   `json:"name" binding:"required"`
	Severity string   `json:"severity" binding:"required,oneof=low medium high critical"`
	Channels []string `json:"channels" binding:"required,min=1"`
}

// TriggerAlertRequest fires an alert with optional context.
type TriggerAlertRequest struct {
	Details map[string]interface{} `json:"details,omitempty"`
}

// RecordMetricRequest appends one metric sample.
type RecordMetricRequest struct {
	Name  string            `json:"name" binding:"required"`
	Value float64           `json:"value"`
	Type  string            `json:"type" binding:"required,oneof=counter gauge histogram timer"`
	Tags  map[string]string `json:"tags,omitempty"`
}
