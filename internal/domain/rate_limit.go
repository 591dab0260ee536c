package domain

import (
	"fmt"
	"time"
)

// RateLimitRule caps how many requests one subject may make per window.
type RateLimitRule struct {
	Scope  string        `json:"scope"`
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

const (
	RateLimitScopeUser = "user"
	RateLimitScopeIP   = "ip"
)

// Key builds the counter key for subject under this rule.
func (r RateLimitRule) Key(route, subject string) string {
	return fmt.Sprintf("%s:%s:%s", r.Scope, route, subject)
}
