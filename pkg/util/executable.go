package util

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// FindExecutable resolves an external binary. An explicit path must exist and be
// executable, otherwise name is looked up in PATH.
func FindExecutable(explicit, name string) (string, error) {
	if explicit != "" {
		st, err := os.Stat(explicit)
		if err != nil {
			return "", fmt.Errorf("%s not found at %s, %w", name, explicit, err)
		}

		if st.IsDir() || st.Mode()&0o111 == 0 {
			return "", fmt.Errorf("%s at %s is not executable", name, explicit)
		}

		return filepath.Clean(explicit), nil
	}

	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH, %w", name, err)
	}

	return p, nil
}
