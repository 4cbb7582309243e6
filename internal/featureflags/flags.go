package featureflags

import (
	"os"
	"strings"
)

// Enabled returns true if a flag is enabled via environment variable.
// Flags are read from env as FLAG_<NAME>=true/1/yes/on (case-insensitive);
// dashes and spaces in name become underscores.
func Enabled(name string) bool {
	v, ok := os.LookupEnv(EnvKey(name))
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// EnvKey returns the environment variable that controls flag name.
func EnvKey(name string) string {
	n := strings.NewReplacer("-", "_", " ", "_").Replace(strings.TrimSpace(name))
	return "FLAG_" + strings.ToUpper(n)
}
