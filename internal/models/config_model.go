package models

// ConfigValueType is the inferred semantic type of a configuration value.
type ConfigValueType string

const (
	ConfigTypeString  ConfigValueType = "string"
	ConfigTypeNumber  ConfigValueType = "number"
	ConfigTypeBoolean ConfigValueType = "boolean"
	ConfigTypeArray   ConfigValueType = "array"
	ConfigTypeObject  ConfigValueType = "object"
)

// ValidationRule constrains a configuration value. Min/Max apply to numeric
// values, Pattern to strings, AllowedValues to any type (membership test).
type ValidationRule struct {
	Min           *float64      `json:"min,omitempty"`
	Max           *float64      `json:"max,omitempty"`
	Pattern       string        `json:"pattern,omitempty"`
	AllowedValues []interface{} `json:"allowedValues,omitempty"`
}

// Configuration is a typed config value scoped to an environment. When
// IsSecret is set the Value field stays empty and the authoritative value
// lives in a companion secret keyed config_<environment>:<key>; exactly one
// of the two is authoritative.
type Configuration struct {
	ID             string          `json:"id"` // environment:key
	Key            string          `json:"key"`
	Value          interface{}     `json:"value,omitempty"`
	Type           ConfigValueType `json:"type"`
	Environment    string          `json:"environment"`
	Description    string          `json:"description,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	IsSecret       bool            `json:"isSecret"`
	IsRequired     bool            `json:"isRequired"`
	DefaultValue   interface{}     `json:"defaultValue,omitempty"`
	ValidationRule *ValidationRule `json:"validationRule,omitempty"`
}

// ConfigOptions carries the optional attributes for SetConfig.
type ConfigOptions struct {
	Description    string          `json:"description,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	IsSecret       bool            `json:"isSecret,omitempty"`
	IsRequired     bool            `json:"isRequired,omitempty"`
	DefaultValue   interface{}     `json:"defaultValue,omitempty"`
	ValidationRule *ValidationRule `json:"validationRule,omitempty"`
}

// EnvironmentValidationResult reports every required configuration that does
// not resolve to a value, not just the first.
type EnvironmentValidationResult struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors,omitempty"`
}
