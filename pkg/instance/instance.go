package instance

import (
	"os"

	"github.com/angelmondragon/catalog-sync/pkg/env"
)

// GetID identifies this process among the instances sharing the durable
// subscription. It falls back to the host name.
func GetID() string {
	if id := env.Get("CATALOGSYNC_INSTANCE_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "sync-worker-0"
}
