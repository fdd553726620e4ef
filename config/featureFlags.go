package config

import (
	"os"
	"strconv"
	"strings"
)

// IsProductionMode reports whether GO_ENV=production.
// Production mode disables every development relaxation (unsigned webhooks, error detail, open CORS).
func IsProductionMode() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production")
}

// RequireWebhookSignatureInDev forces signature checks outside production as well.
//
// Set via env:
// - WEBHOOK_REQUIRE_SIGNATURE=true
func RequireWebhookSignatureInDev() bool {
	return boolFromEnv("WEBHOOK_REQUIRE_SIGNATURE")
}

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func stringFromEnv(def string, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return def
}
