package vault

import (
	"os"
	"strings"
)

// EnvPrefix is where imported dotenv entries live inside the store.
const EnvPrefix = "env/"

// Getenv reads from the OS environment first, then from the store under
// env/<KEY>. A nil receiver falls back to the OS environment alone, so
// callers can resolve values whether or not a vault is configured.
func (s *Store) Getenv(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	if s != nil && s.db != nil {
		if v, ok, _ := s.Get(EnvPrefix + key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
