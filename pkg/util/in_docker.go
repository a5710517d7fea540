package util

import "os"

// IsRunningInDocker reports whether the process runs inside a container.
// Docker leaves /.dockerenv behind, podman and systemd-nspawn set $container.
func IsRunningInDocker() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}

	return os.Getenv("container") != ""
}
