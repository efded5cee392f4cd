package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"trustlayer-backend-go/internal/crypto"
	"trustlayer-backend-go/internal/models"
)

// Custom errors for the ConfigService.
var (
	ErrConfigNotFound = errors.New("configuration not found")
)

// ValidationError reports every violated rule, not just the first, so a
// caller can surface the full list at once.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

// configWatcher is one registered callback with an id for unsubscription.
type configWatcher struct {
	id       int
	callback func(value interface{}, environment string)
}

// configService implements ConfigService. Configurations and flags live in
// separate maps behind separate mutexes so unrelated operations do not
// serialize each other.
type configService struct {
	secrets SecretService
	logger  *zap.Logger

	configMu sync.RWMutex
	configs  map[string]*models.Configuration // id = environment:key

	flagMu sync.RWMutex
	flags  map[string]*models.FeatureFlag // id = environment:name

	watchMu   sync.Mutex
	watchers  map[string][]configWatcher // keyed by config key (all environments)
	watcherID int
}

// NewConfigService creates a ConfigService. The secret service backs every
// configuration marked secret; it is required.
func NewConfigService(secrets SecretService, logger *zap.Logger) (ConfigService, error) {
	if secrets == nil {
		return nil, errors.New("configService: secret service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &configService{
		secrets:  secrets,
		logger:   logger,
		configs:  make(map[string]*models.Configuration),
		flags:    make(map[string]*models.FeatureFlag),
		watchers: make(map[string][]configWatcher),
	}, nil
}

// inferValueType maps a Go value onto the configuration type vocabulary.
func inferValueType(value interface{}) models.ConfigValueType {
	switch value.(type) {
	case nil:
		return models.ConfigTypeObject
	case string:
		return models.ConfigTypeString
	case bool:
		return models.ConfigTypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return models.ConfigTypeNumber
	}
	switch reflect.TypeOf(value).Kind() {
	case reflect.Slice, reflect.Array:
		return models.ConfigTypeArray
	default:
		return models.ConfigTypeObject
	}
}

// asFloat converts any numeric value to float64 for range checks.
func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// applyValidationRule checks value against rule and collects every violation.
func applyValidationRule(key string, value interface{}, rule *models.ValidationRule) error {
	if rule == nil {
		return nil
	}
	var violations []string

	if rule.Min != nil || rule.Max != nil {
		num, ok := asFloat(value)
		if !ok {
			violations = append(violations, fmt.Sprintf("%s: min/max rule requires a numeric value", key))
		} else {
			if rule.Min != nil && num < *rule.Min {
				violations = append(violations, fmt.Sprintf("%s: value %v is below minimum %v", key, num, *rule.Min))
			}
			if rule.Max != nil && num > *rule.Max {
				violations = append(violations, fmt.Sprintf("%s: value %v is above maximum %v", key, num, *rule.Max))
			}
		}
	}

	if rule.Pattern != "" {
		str, ok := value.(string)
		if !ok {
			violations = append(violations, fmt.Sprintf("%s: pattern rule requires a string value", key))
		} else {
			re, err := regexp.Compile(rule.Pattern)
			if err != nil {
				violations = append(violations, fmt.Sprintf("%s: invalid pattern %q", key, rule.Pattern))
			} else if !re.MatchString(str) {
				violations = append(violations, fmt.Sprintf("%s: value does not match pattern %q", key, rule.Pattern))
			}
		}
	}

	if len(rule.AllowedValues) > 0 {
		allowed := false
		for _, candidate := range rule.AllowedValues {
			if reflect.DeepEqual(candidate, value) {
				allowed = true
				break
			}
		}
		if !allowed {
			violations = append(violations, fmt.Sprintf("%s: value is not in the allowed set", key))
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// secretKeyFor is the logical secret key that backs a secret configuration.
func secretKeyFor(environment, key string) string {
	return "config_" + environment + ":" + key
}

// SetConfig validates and stores a configuration value. Secret-backed values
// are delegated to the secret store; the registry holds only the reference.
// Validation failures reject the value before anything is persisted.
func (s *configService) SetConfig(ctx context.Context, key string, value interface{}, environment string, opts models.ConfigOptions) error {
	if key == "" || environment == "" {
		return fmt.Errorf("%w: key and environment are required", ErrInvalidInput)
	}

	if err := applyValidationRule(key, value, opts.ValidationRule); err != nil {
		return err
	}

	cfg := &models.Configuration{
		ID:             environment + ":" + key,
		Key:            key,
		Type:           inferValueType(value),
		Environment:    environment,
		Description:    opts.Description,
		Tags:           opts.Tags,
		IsSecret:       opts.IsSecret,
		IsRequired:     opts.IsRequired,
		DefaultValue:   opts.DefaultValue,
		ValidationRule: opts.ValidationRule,
	}

	if opts.IsSecret {
		// The plaintext never enters the registry; the companion secret is
		// authoritative.
		str, ok := value.(string)
		if !ok {
			return &ValidationError{Violations: []string{key + ": secret configurations require a string value"}}
		}
		if _, err := s.secrets.SetSecret(ctx, secretKeyFor(environment, key), str, environment, models.SecretMetadata{
			Type:        models.SecretTypeGeneric,
			Description: "secret-backed configuration " + cfg.ID,
			Tags:        []string{"config"},
		}, ""); err != nil {
			return fmt.Errorf("failed to store secret-backed configuration: %w", err)
		}
	} else {
		cfg.Value = value
	}

	s.configMu.Lock()
	s.configs[cfg.ID] = cfg
	s.configMu.Unlock()

	s.notifyWatchers(key, value, environment)
	return nil
}

// GetConfig resolves a configuration value, consulting the secret store for
// secret-backed entries. ErrConfigNotFound is only returned when no default
// was supplied.
func (s *configService) GetConfig(ctx context.Context, key, environment string, defaultValue interface{}) (interface{}, error) {
	s.configMu.RLock()
	cfg, ok := s.configs[environment+":"+key]
	s.configMu.RUnlock()

	if !ok {
		if defaultValue != nil {
			return defaultValue, nil
		}
		return nil, fmt.Errorf("%w: %s in %s", ErrConfigNotFound, key, environment)
	}

	if cfg.IsSecret {
		value, err := s.secrets.GetSecret(ctx, secretKeyFor(environment, key), environment, "")
		if err != nil {
			// A decrypt failure can mask tampering and must surface even
			// when the caller supplied a fallback.
			if errors.Is(err, crypto.ErrDecryptionFailed) {
				return nil, fmt.Errorf("failed to resolve secret-backed configuration %s: %w", cfg.ID, err)
			}
			if defaultValue != nil {
				return defaultValue, nil
			}
			return nil, fmt.Errorf("failed to resolve secret-backed configuration %s: %w", cfg.ID, err)
		}
		return value, nil
	}

	if cfg.Value == nil {
		if cfg.DefaultValue != nil {
			return cfg.DefaultValue, nil
		}
		if defaultValue != nil {
			return defaultValue, nil
		}
		return nil, fmt.Errorf("%w: %s in %s", ErrConfigNotFound, key, environment)
	}
	return cfg.Value, nil
}

// DeleteConfig removes a configuration and its backing secret, then notifies
// watchers with a nil value.
func (s *configService) DeleteConfig(ctx context.Context, key, environment string) error {
	id := environment + ":" + key

	s.configMu.Lock()
	cfg, ok := s.configs[id]
	if ok {
		delete(s.configs, id)
	}
	s.configMu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s in %s", ErrConfigNotFound, key, environment)
	}

	if cfg.IsSecret {
		if err := s.secrets.DeleteSecret(ctx, secretKeyFor(environment, key), environment, ""); err != nil && !errors.Is(err, ErrSecretNotFound) {
			s.logger.Warn("failed to delete backing secret for configuration",
				zap.String("config_id", id), zap.Error(err))
		}
	}

	s.notifyWatchers(key, nil, environment)
	return nil
}

// WatchConfig registers a callback for changes to key in any environment.
// Watchers run synchronously in registration order; a panicking watcher is
// recovered so the remaining watchers still run.
func (s *configService) WatchConfig(key string, callback func(value interface{}, environment string)) func() {
	s.watchMu.Lock()
	s.watcherID++
	id := s.watcherID
	s.watchers[key] = append(s.watchers[key], configWatcher{id: id, callback: callback})
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		s.watchers[key] = lo.Filter(s.watchers[key], func(w configWatcher, _ int) bool {
			return w.id != id
		})
	}
}

func (s *configService) notifyWatchers(key string, value interface{}, environment string) {
	s.watchMu.Lock()
	registered := append([]configWatcher(nil), s.watchers[key]...)
	s.watchMu.Unlock()

	for _, w := range registered {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Warn("config watcher panicked",
						zap.String("key", key), zap.Any("panic", r))
				}
			}()
			w.callback(value, environment)
		}()
	}
}

// SetFeatureFlag creates or updates a flag.
func (s *configService) SetFeatureFlag(ctx context.Context, name string, enabled bool, environment string, conditions []models.FlagCondition, metadata map[string]interface{}) error {
	if name == "" || environment == "" {
		return fmt.Errorf("%w: name and environment are required", ErrInvalidInput)
	}

	id := environment + ":" + name
	now := time.Now().UTC()

	s.flagMu.Lock()
	defer s.flagMu.Unlock()

	if existing, ok := s.flags[id]; ok {
		existing.Enabled = enabled
		existing.Conditions = conditions
		existing.Metadata = metadata
		existing.UpdatedAt = now
		return nil
	}
	s.flags[id] = &models.FeatureFlag{
		ID:          id,
		Name:        name,
		Enabled:     enabled,
		Environment: environment,
		Conditions:  conditions,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return nil
}

// IsFeatureEnabled evaluates a flag for the given context. An absent flag is
// off. Evaluation itself is pure; only the trigger timestamp is recorded.
func (s *configService) IsFeatureEnabled(name, environment string, evalCtx models.EvaluationContext) bool {
	id := environment + ":" + name

	s.flagMu.RLock()
	flag, ok := s.flags[id]
	s.flagMu.RUnlock()
	if !ok {
		return false
	}

	enabled := flag.Evaluate(evalCtx)
	if enabled {
		now := time.Now().UTC()
		s.flagMu.Lock()
		flag.LastTriggeredAt = &now
		s.flagMu.Unlock()
	}
	return enabled
}

// ValidateEnvironment checks that every required configuration resolves to a
// non-nil value and reports all violations in one pass.
func (s *configService) ValidateEnvironment(ctx context.Context, environment string) models.EnvironmentValidationResult {
	s.configMu.RLock()
	required := lo.Filter(lo.Values(s.configs), func(cfg *models.Configuration, _ int) bool {
		return cfg.Environment == environment && cfg.IsRequired
	})
	s.configMu.RUnlock()

	var missing []string
	for _, cfg := range required {
		if _, err := s.GetConfig(ctx, cfg.Key, environment, nil); err != nil {
			missing = append(missing, fmt.Sprintf("required configuration %q is not set", cfg.Key))
		}
	}

	return models.EnvironmentValidationResult{
		IsValid: len(missing) == 0,
		Errors:  missing,
	}
}

// ExportConfigurations snapshots non-secret configurations for external
// inspection tooling. Secret-backed entries are included as metadata only,
// with no value.
func (s *configService) ExportConfigurations(environment string) []*models.Configuration {
	s.configMu.RLock()
	defer s.configMu.RUnlock()

	var out []*models.Configuration
	for _, cfg := range s.configs {
		if environment != "" && cfg.Environment != environment {
			continue
		}
		cp := *cfg
		if cfg.Tags != nil {
			cp.Tags = append([]string(nil), cfg.Tags...)
		}
		if cfg.IsSecret {
			cp.Value = nil
			cp.DefaultValue = nil
		}
		out = append(out, &cp)
	}
	return out
}
