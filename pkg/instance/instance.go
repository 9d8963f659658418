package instance

import (
	"os"

	"github.com/angelmondragon/escrow-backend/pkg/env"
)

// GetID names the running process for log correlation. Platform dyno names
// win over WORKER_ID, then the hostname.
func GetID(fallback string) string {
	if id, ok := env.First("DYNO", "WORKER_ID"); ok {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallback
}
