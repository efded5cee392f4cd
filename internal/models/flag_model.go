package models

import (
	"hash/fnv"
	"time"
)

// EvaluationContext carries the request-scoped identity a flag is evaluated
// against. All fields are optional; absent fields simply fail the conditions
// that need them (except percentage rollout, which falls back to "anonymous").
type EvaluationContext struct {
	UserID    string   `json:"userId,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	IPAddress string   `json:"ipAddress,omitempty"`
	Now       time.Time `json:"-"` // zero means time.Now()
}

func (c EvaluationContext) now() time.Time {
	if c.Now.IsZero() {
		return time.Now()
	}
	return c.Now
}

// FlagCondition is the closed set of gate kinds a feature flag may carry.
// One concrete type exists per kind; evaluation matches on the variant
// instead of probing optional fields. All conditions on a flag must pass
// (conjunction).
type FlagCondition interface {
	// Matches reports whether the context passes this condition.
	Matches(flagID string, ctx EvaluationContext) bool
}

// UserCondition passes when the context's user is in the allow-list.
type UserCondition struct {
	UserIDs []string `json:"userIds"`
}

func (c UserCondition) Matches(_ string, ctx EvaluationContext) bool {
	for _, id := range c.UserIDs {
		if id == ctx.UserID && id != "" {
			return true
		}
	}
	return false
}

// RoleCondition passes when the context holds at least one allowed role.
type RoleCondition struct {
	Roles []string `json:"roles"`
}

func (c RoleCondition) Matches(_ string, ctx EvaluationContext) bool {
	for _, allowed := range c.Roles {
		for _, held := range ctx.Roles {
			if allowed == held && allowed != "" {
				return true
			}
		}
	}
	return false
}

// IPCondition passes when the context's client IP is in the allow-list.
type IPCondition struct {
	IPAddresses []string `json:"ipAddresses"`
}

func (c IPCondition) Matches(_ string, ctx EvaluationContext) bool {
	for _, ip := range c.IPAddresses {
		if ip == ctx.IPAddress && ip != "" {
			return true
		}
	}
	return false
}

// PercentageCondition passes for the stable fraction of identities whose
// rollout bucket falls at or below Percentage. Buckets are deterministic per
// (flag, identity), so a user keeps the same verdict across calls without any
// persisted assignment state.
type PercentageCondition struct {
	Percentage int `json:"percentage"` // 0..100
}

func (c PercentageCondition) Matches(flagID string, ctx EvaluationContext) bool {
	if c.Percentage >= 100 {
		return true
	}
	if c.Percentage <= 0 {
		return false
	}
	return RolloutBucket(flagID, ctx) <= c.Percentage
}

// DateWindowCondition passes while the evaluation time is inside the window.
// A zero bound is open-ended on that side.
type DateWindowCondition struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

func (c DateWindowCondition) Matches(_ string, ctx EvaluationContext) bool {
	now := ctx.now()
	if !c.Start.IsZero() && now.Before(c.Start) {
		return false
	}
	if !c.End.IsZero() && now.After(c.End) {
		return false
	}
	return true
}

// RolloutBucket maps an identity into a stable [1,100] bucket using FNV-1a
// over the flag id and the identity (user id, falling back to IP address,
// falling back to "anonymous").
//
// FNV is not collision-resistant and must not be used for any
// security-sensitive partitioning; it is kept (rather than a cryptographic
// hash) so that existing bucket assignments stay stable.
func RolloutBucket(flagID string, ctx EvaluationContext) int {
	identity := ctx.UserID
	if identity == "" {
		identity = ctx.IPAddress
	}
	if identity == "" {
		identity = "anonymous"
	}
	h := fnv.New32a()
	h.Write([]byte(flagID))
	h.Write([]byte(":"))
	h.Write([]byte(identity))
	return int(h.Sum32()%100) + 1
}

// FeatureFlag is a named switch scoped to an environment, optionally gated by
// conditions. Evaluation is a pure function of (flag, context); the service
// layer owns the LastTriggeredAt bookkeeping.
type FeatureFlag struct {
	ID              string          `json:"id"` // environment:name
	Name            string          `json:"name"`
	Enabled         bool            `json:"enabled"`
	Environment     string          `json:"environment"`
	Conditions      []FlagCondition `json:"-"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	LastTriggeredAt *time.Time      `json:"lastTriggeredAt,omitempty"`
}

// Evaluate checks the flag in order: disabled flags are always off, flags
// without conditions are on, otherwise every condition must match.
func (f *FeatureFlag) Evaluate(ctx EvaluationContext) bool {
	if f == nil || !f.Enabled {
		return false
	}
	if len(f.Conditions) == 0 {
		return true
	}
	for _, cond := range f.Conditions {
		if !cond.Matches(f.ID, ctx) {
			return false
		}
	}
	return true
}
