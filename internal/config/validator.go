package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	validLogLevels      = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	validLogFormats     = map[string]bool{"json": true, "text": true}
	validBackends       = map[string]bool{"memory": true, "redis": true, "sqlite": true, "postgres": true}
	validPolicies       = map[string]bool{"closed": true, "open": true}
	validHandlers       = map[string]bool{"log": true, "forward": true}
	validAdminScopes    = map[string]bool{"*": true, "stats:ro": true, "stats:rw": true, "dedup:rw": true}
	errUnresolvedEnvVar = errors.New("environment variable is not set")
)

// Validate checks cfg and applies the adjustments it can make safely. Each
// adjustment is recorded in cfg.Warnings. All hard errors are joined.
func Validate(cfg *Config) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		fail("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if !validLogFormats[strings.ToLower(cfg.Service.LogFormat)] {
		fail("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	v := &cfg.Verification
	for field, value := range map[string]string{
		"verification.verification_token": v.VerificationToken,
		"verification.encrypt_key":        v.EncryptKey,
	} {
		if name, ok := unresolvedEnvVar(value); ok {
			fail("%s: ${%s}: %w", field, name, errUnresolvedEnvVar)
		}
	}
	if v.EncryptKey == "" {
		fail("verification.encrypt_key is required")
	}
	if v.TimestampTolerance < 0 {
		fail("verification.timestamp_tolerance must not be negative")
	}
	if v.EventTTL <= 0 {
		fail("verification.event_ttl must be positive")
	}
	if v.NonceTTL <= 0 {
		fail("verification.nonce_ttl must be positive")
	}
	tolerance := time.Duration(v.TimestampTolerance) * time.Second
	if v.NonceTTL > 0 && v.NonceTTL < tolerance {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf(
			"verification.nonce_ttl %s is shorter than timestamp_tolerance %s; raised to %s",
			v.NonceTTL, tolerance, tolerance))
		v.NonceTTL = tolerance
	}

	d := &cfg.Dedup
	if !validBackends[d.Backend] {
		fail("dedup.backend must be one of: memory, redis, sqlite, postgres (got %q)", d.Backend)
	}
	if !validPolicies[d.FailurePolicy] {
		fail("dedup.failure_policy must be closed or open (got %q)", d.FailurePolicy)
	}
	if d.OpTimeout <= 0 {
		fail("dedup.op_timeout must be positive")
	}
	if d.SweepInterval < 0 {
		fail("dedup.sweep_interval must not be negative")
	}
	if d.MaxEntries < 0 {
		fail("dedup.max_entries must not be negative")
	}
	if d.EventPrefix == d.NoncePrefix {
		fail("dedup.event_prefix and dedup.nonce_prefix must differ")
	}
	switch d.Backend {
	case "redis":
		if d.Redis.Addr == "" {
			fail("dedup.redis.addr is required for the redis backend")
		}
		if name, ok := unresolvedEnvVar(d.Redis.Password); ok {
			fail("dedup.redis.password: ${%s}: %w", name, errUnresolvedEnvVar)
		}
	case "sqlite":
		if d.SQLite.Path == "" {
			fail("dedup.sqlite.path is required for the sqlite backend")
		}
	case "postgres":
		if d.Postgres.URL == "" {
			fail("dedup.postgres.url is required for the postgres backend")
		}
		if name, ok := unresolvedEnvVar(d.Postgres.URL); ok {
			fail("dedup.postgres.url: ${%s}: %w", name, errUnresolvedEnvVar)
		}
	}

	p := &cfg.Dispatch
	if p.Workers <= 0 {
		fail("dispatch.workers must be positive")
	}
	if p.QueueSize < 0 {
		fail("dispatch.queue_size must not be negative")
	}
	if p.HandlerTimeout <= 0 {
		fail("dispatch.handler_timeout must be positive")
	}
	for eventType, handler := range p.Routes {
		if !validHandlers[handler] {
			fail("dispatch.routes[%q]: unknown handler %q", eventType, handler)
			continue
		}
		if handler == "forward" && p.ForwardURL == "" {
			fail("dispatch.routes[%q]: forward handler requires dispatch.forward_url", eventType)
		}
	}

	for i, tok := range cfg.Admin.Tokens {
		if tok.Token == "" {
			fail("admin.tokens[%d]: token is required", i)
		}
		for _, scope := range tok.Scopes {
			if !validAdminScopes[scope] {
				fail("admin.tokens[%d]: unknown scope %q", i, scope)
			}
		}
	}

	return errors.Join(errs...)
}

func unresolvedEnvVar(value string) (string, bool) {
	m := envVarPattern.FindStringSubmatch(value)
	if m == nil {
		return "", false
	}
	return m[1], true
}
