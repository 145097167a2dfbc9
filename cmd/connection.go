// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/Thermoquad/vrctl/pkg/trace"
	"github.com/Thermoquad/vrctl/pkg/ttylock"
	"github.com/Thermoquad/vrctl/pkg/vrc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// session owns the open link to the controller and everything that must be
// undone when it closes: the port, the trace file and the tty lock.
type session struct {
	info   string
	link   *vrc.Link
	engine *vrc.Engine
	lock   *ttylock.Lock
	log    zerolog.Logger
}

// openSession opens the controller link described by the settings. The
// caller must Close the session on every path; Close releases the lock.
func openSession(a *app, opts ...vrc.Option) (*session, error) {
	s := &session{log: a.log}

	port, err := s.openPort(a)
	if err != nil {
		_ = s.lock.Release()
		return nil, err
	}

	if tracePath != "" {
		rec, err := trace.Create(port, tracePath)
		if err != nil {
			_ = port.Close()
			_ = s.lock.Release()
			return nil, err
		}
		port = rec
		a.log.Debug().Str("file", tracePath).Msg("tracing link traffic")
	}

	s.link = vrc.NewLink(port, a.log)
	if a.cfg.URL == "" {
		// Record the opening profile so loaders can switch away and back.
		profile, _ := vrc.ProfileForBaud(a.cfg.Baud)
		if err := s.link.Configure(profile); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	opts = append([]vrc.Option{
		vrc.WithLogger(a.log),
		vrc.WithReplyTimeout(a.cfg.Timeout),
	}, opts...)
	s.engine = vrc.NewEngine(s.link, opts...)

	a.log.Info().Msgf("Connection: %s", s.info)
	return s, nil
}

func (s *session) openPort(a *app) (vrc.Port, error) {
	cfg := a.cfg
	if cfg.URL != "" {
		password := ""
		if cfg.Username != "" {
			var err error
			password, err = getPassword()
			if err != nil {
				return nil, err
			}
		}

		port, err := vrc.DialWebSocket(cfg.URL, cfg.Username, password, wsNoSSLVerify)
		if err != nil {
			return nil, err
		}
		s.info = fmt.Sprintf("WebSocket: %s", cfg.URL)
		return port, nil
	}

	if cfg.Port == "" {
		return nil, errors.New("either --port or --url must be specified")
	}

	profile, err := vrc.ProfileForBaud(cfg.Baud)
	if err != nil {
		return nil, err
	}

	if !noLock {
		lock, err := ttylock.AcquireIn(cfg.LockDir, cfg.Port, "vrctl")
		if err != nil {
			return nil, errors.Wrapf(err, "%s is locked", cfg.Port)
		}
		if !lock.Held() {
			a.log.Debug().Str("dir", cfg.LockDir).Msg("lock directory not usable, continuing unlocked")
		}
		s.lock = lock
	}

	port, err := vrc.OpenSerial(cfg.Port, profile)
	if err != nil {
		return nil, err
	}
	s.info = fmt.Sprintf("Serial: %s @ %d baud", cfg.Port, profile.BaudRate)
	return port, nil
}

// Close closes the port and releases the lock.
func (s *session) Close() error {
	var err error
	if s.link != nil {
		err = s.link.Close()
	}
	if lerr := s.lock.Release(); lerr != nil {
		s.log.Warn().Err(lerr).Msg("failed to release lock")
	}
	return err
}

// getPassword retrieves the WebSocket password from the environment or
// prompts for it without echo.
func getPassword() (string, error) {
	if pw := os.Getenv("VRCTL_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", errors.Wrap(err, "failed to read password")
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	passwordBytes, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", errors.Wrap(err, "failed to read password")
	}
	return string(passwordBytes), nil
}
