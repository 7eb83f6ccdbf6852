package vpn

import (
	"fmt"
	"os"

	"github.com/kingzvpn/client/common"
)

// WriteCredentialsFile writes a username/password pair for --auth-user-pass
// into a new 0600 file under dir (os.TempDir when empty). The caller removes
// it once the process has exited.
func WriteCredentialsFile(dir string, creds common.Credentials) (string, error) {
	if creds.Username == "" && creds.Password == "" {
		return "", nil
	}
	if dir == "" {
		dir = os.TempDir()
	}
	if err := common.EnsureDir(dir); err != nil {
		return "", err
	}

	f, err := os.CreateTemp(dir, "cred-*")
	if err != nil {
		return "", fmt.Errorf("failed to create credentials file: %w", err)
	}
	path := f.Name()

	if err := f.Chmod(0600); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if _, err := fmt.Fprintf(f, "%s\n%s\n", creds.Username, creds.Password); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
