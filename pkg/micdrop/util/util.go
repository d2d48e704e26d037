package util

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mitchellh/go-ps"
	"github.com/nightlyone/lockfile"
)

// EnsureDirExists creates the given directory path if it doesn't already exist
func EnsureDirExists(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("ensure directory exists (%s): %w", path, err)
	}

	return nil
}

// FileExists checks if a file exists and is not a directory before we
// try using it to prevent further errors.
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}

	return err == nil && !info.IsDir()
}

// SetupCloseHandler creates a 'listener' on a new goroutine which will notify the
// program if it receives an interrupt from the OS
func SetupCloseHandler() chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	return c
}

// ExecutableName returns the name of the running executable as the process
// table reports it, falling back to the base name of os.Executable
func ExecutableName() (string, error) {
	process, err := ps.FindProcess(os.Getpid())
	if err == nil && process != nil && process.Executable() != "" {
		return process.Executable(), nil
	}

	path, exeErr := os.Executable()
	if exeErr != nil {
		return "", fmt.Errorf("resolve executable name: %w", errors.Join(err, exeErr))
	}

	name := filepath.Base(path)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("resolve executable name: empty base name in %q", path)
	}

	return name, nil
}

// AcquireInstanceLock takes the pid lock file at path, which must be absolute.
// The returned func releases it.
func AcquireInstanceLock(path string) (func() error, error) {
	lock, err := lockfile.New(path)
	if err != nil {
		return nil, fmt.Errorf("create lock file (%s): %w", path, err)
	}

	if err := lock.TryLock(); err != nil {
		return nil, fmt.Errorf("acquire lock file (%s): %w", path, err)
	}

	return lock.Unlock, nil
}
