package util

import "os"

// EnvPrefix is prepended to the names Env looks up.
const EnvPrefix = "RESTLESS_"

// Env returns $RESTLESS_<name>, or def when it is unset or empty.
func Env(name, def string) string {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		return val
	}
	return def
}
