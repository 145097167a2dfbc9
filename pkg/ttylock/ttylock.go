// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ttylock implements UUCP style advisory locks on serial devices,
// e.g. /var/lock/LCK..ttyUSB0 holding the owner's pid.
package ttylock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// DefaultDir is the system lock directory.
const DefaultDir = "/var/lock"

// ErrLocked means another live process holds the device.
var ErrLocked = errors.New("device is locked")

// Lock is a held device lock. A Lock with an empty path was granted without
// a lock file because the lock directory is not usable.
type Lock struct {
	path string
}

// Path returns the lock file, or "" if none was written.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Held reports whether a lock file was written.
func (l *Lock) Held() bool {
	return l.Path() != ""
}

// Release removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	path := l.path
	l.path = ""
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove lock file")
	}
	return nil
}

// AcquireIn locks device with a lock file in dir. A lock left by a process
// that no longer exists is taken over. If dir cannot be read and written the
// device is used unlocked.
func AcquireIn(dir, device, caller string) (*Lock, error) {
	if err := unix.Access(dir, unix.R_OK|unix.W_OK); err != nil {
		return &Lock{}, nil
	}

	path := LockPath(dir, device)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return create(path, caller)
	case err != nil:
		return nil, errors.Wrap(err, "read lock file")
	}

	if pid := parsePID(data); pid > 0 && alive(pid) {
		return nil, errors.Wrapf(ErrLocked, "%s held by pid %d", device, pid)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "remove stale lock file")
	}
	return create(path, caller)
}

// LockPath returns the lock file name for device: only its base name is
// used, so /dev/ttyS0 maps to <dir>/LCK..ttyS0.
func LockPath(dir, device string) string {
	return filepath.Join(dir, "LCK.."+filepath.Base(device))
}

func create(path, caller string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.Wrap(ErrLocked, path)
		}
		return nil, errors.Wrap(err, "create lock file")
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintf(f, "%10d %s root\n", os.Getpid(), caller); err != nil {
		_ = os.Remove(path)
		return nil, errors.Wrap(err, "write lock file")
	}
	return &Lock{path: path}, nil
}

func parsePID(data []byte) int {
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return pid
}

// alive probes pid with signal 0. EPERM means the process exists but
// belongs to someone else.
func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
