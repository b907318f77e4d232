package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const redactedValue = "********"

// Redacted returns a copy of c with every secret replaced, safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	out.Verification.VerificationToken = redact(c.Verification.VerificationToken)
	out.Verification.EncryptKey = redact(c.Verification.EncryptKey)
	out.Dedup.Redis.Password = redact(c.Dedup.Redis.Password)
	out.Dedup.Postgres.URL = redact(c.Dedup.Postgres.URL)
	out.Admin.Token = redact(c.Admin.Token)
	out.Admin.Tokens = make([]AdminToken, len(c.Admin.Tokens))
	for i, t := range c.Admin.Tokens {
		out.Admin.Tokens[i] = AdminToken{Token: redact(t.Token), Scopes: t.Scopes}
	}
	out.Dispatch.Routes = make(map[string]string, len(c.Dispatch.Routes))
	for k, v := range c.Dispatch.Routes {
		out.Dispatch.Routes[k] = v
	}
	return &out
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return redactedValue
}

// GetPath retrieves a value from the redacted configuration using a
// dot-notation path such as "dedup.redis.addr". An empty path returns the
// whole config.
func (c *Config) GetPath(path string) (any, error) {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return getValue(m, path)
}

func getValue(m map[string]any, path string) (any, error) {
	parts := strings.Split(path, ".")
	var current any = m

	for _, part := range parts {
		if part == "" {
			continue
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}

		val, exists := m[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}

	return current, nil
}
