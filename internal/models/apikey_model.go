package models

import "time"

// RateLimit is the request budget an API key (or endpoint) is allowed within
// one wall-clock window.
type RateLimit struct {
	WindowMs int64 `json:"windowMs" binding:"required,min=1"`
	Requests int   `json:"requests" binding:"required,min=1"`
}

// Window returns the limit's window as a duration.
func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// APIKey is an issued credential. The in-memory map keyed by the bearer value
// is a cache for the hot authentication path; the backing secret
// (api_key_<id>) is the source of truth and must be rehydrated into the cache
// after a process restart.
type APIKey struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"` // bearer value
	Name        string     `json:"name"`
	OwnerUserID string     `json:"ownerUserId"`
	Scopes      []string   `json:"scopes,omitempty"`
	Permissions []string   `json:"permissions,omitempty"`
	RateLimit   *RateLimit `json:"rateLimit,omitempty"`
	IsActive    bool       `json:"isActive"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	UsageCount  int64      `json:"usageCount"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
	Environment string     `json:"environment"`
}

// Clone returns a deep copy so cache entries are never shared with callers.
func (k *APIKey) Clone() *APIKey {
	if k == nil {
		return nil
	}
	cp := *k
	if k.Scopes != nil {
		cp.Scopes = append([]string(nil), k.Scopes...)
	}
	if k.Permissions != nil {
		cp.Permissions = append([]string(nil), k.Permissions...)
	}
	if k.RateLimit != nil {
		limit := *k.RateLimit
		cp.RateLimit = &limit
	}
	if k.ExpiresAt != nil {
		expires := *k.ExpiresAt
		cp.ExpiresAt = &expires
	}
	if k.LastUsedAt != nil {
		used := *k.LastUsedAt
		cp.LastUsedAt = &used
	}
	return &cp
}

// IsExpired reports whether the key's expiry has passed.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Redacted returns a copy with the bearer value masked, for listings and
// audit metadata.
func (k *APIKey) Redacted() *APIKey {
	cp := k.Clone()
	if len(cp.Key) > 8 {
		cp.Key = cp.Key[:8] + "..."
	} else {
		cp.Key = "..."
	}
	return cp
}

// HasPermission reports whether the key's permission set contains the
// required permission or the wildcard.
func (k *APIKey) HasPermission(required string) bool {
	for _, p := range k.Permissions {
		if p == "*" || p == required {
			return true
		}
	}
	return false
}

// Endpoint describes a registered route: its required permissions and an
// optional per-endpoint rate-limit override.
type Endpoint struct {
	Method              string     `json:"method"`
	Path                string     `json:"path"`
	RequiredPermissions []string   `json:"requiredPermissions,omitempty"`
	RateLimit           *RateLimit `json:"rateLimit,omitempty"`
}

// RouteKey identifies the endpoint in the registry and in rate-limit counter
// keys.
func (e Endpoint) RouteKey() string {
	return e.Method + " " + e.Path
}

// Identity is the single authenticated principal a request carries after the
// authentication stage. Exactly one of APIKeyID / token subject semantics
// applies, indicated by Method.
type Identity struct {
	UserID      string   `json:"userId"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Method      string   `json:"method"` // "bearer" or "api_key"
	APIKeyID    string   `json:"apiKeyId,omitempty"`
}

// HasPermission reports whether the identity's permission set is a superset
// of required (wildcard allowed).
func (i *Identity) HasPermission(required string) bool {
	for _, p := range i.Permissions {
		if p == "*" || p == required {
			return true
		}
	}
	return false
}
