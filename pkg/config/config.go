// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the optional ~/.vrctl.yaml settings file.
package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Thermoquad/vrctl/pkg/ttylock"
	"github.com/Thermoquad/vrctl/pkg/vrc"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FileName is the settings file looked up in the home directory.
const FileName = ".vrctl.yaml"

// DefaultPort is the controller device when nothing else is configured.
const DefaultPort = "/dev/vrc0p"

type Config struct {
	Port     string        `yaml:"port"`
	URL      string        `yaml:"url"`
	Username string        `yaml:"username"`
	Baud     int           `yaml:"baud"`
	Timeout  time.Duration `yaml:"timeout"`
	LockDir  string        `yaml:"lock_dir"`

	// Aliases name single nodes, e.g. "porch: 3".
	Aliases map[string]int `yaml:"aliases"`

	// Groups name lists of nodes that are addressed one by one.
	Groups map[string][]int `yaml:"groups"`

	MQTT        MQTTConfig `yaml:"mqtt"`
	MetricsAddr string     `yaml:"metrics_addr"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	QoS         byte   `yaml:"qos"`
}

// Default returns the settings used when no file exists.
func Default() *Config {
	return &Config{
		Port:    DefaultPort,
		Baud:    vrc.CommandProfile.BaudRate,
		Timeout: vrc.DefaultReplyTimeout,
		LockDir: ttylock.DefaultDir,
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			TopicPrefix: "vrctl",
		},
	}
}

// DefaultPath returns ~/.vrctl.yaml, or "" if there is no home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, FileName)
}

// Load reads path over the defaults. A missing file is not an error unless
// required is set, which is the case for an explicit --config.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return cfg, nil
		}
		return nil, errors.Wrap(err, "read config")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid %s", path)
	}
	return cfg, nil
}

// Validate checks node ids and link settings.
func (c *Config) Validate() error {
	if c.Baud != 0 {
		if _, err := vrc.ProfileForBaud(c.Baud); err != nil {
			return err
		}
	}
	if c.Timeout < 0 {
		return errors.Errorf("negative timeout %s", c.Timeout)
	}
	for name, id := range c.Aliases {
		if id < 0 || id > vrc.MaxNodeID {
			return errors.Errorf("alias %s: node ID %d out of range", name, id)
		}
	}
	for name, ids := range c.Groups {
		if len(ids) == 0 {
			return errors.Errorf("group %s is empty", name)
		}
		for _, id := range ids {
			if id < 0 || id > vrc.MaxNodeID {
				return errors.Errorf("group %s: node ID %d out of range", name, id)
			}
		}
	}
	if c.MQTT.QoS > 2 {
		return errors.Errorf("mqtt qos %d out of range", c.MQTT.QoS)
	}
	return nil
}

// Resolve maps a node name from the command line to targets. Aliases and
// groups are matched case-insensitively before the built-in syntax.
func (c *Config) Resolve(name string) ([]vrc.Target, error) {
	for alias, id := range c.Aliases {
		if strings.EqualFold(alias, name) {
			return []vrc.Target{vrc.Node(id)}, nil
		}
	}
	for group, ids := range c.Groups {
		if strings.EqualFold(group, name) {
			targets := make([]vrc.Target, len(ids))
			for i, id := range ids {
				targets[i] = vrc.Node(id)
			}
			return targets, nil
		}
	}

	t, err := vrc.ParseTarget(name)
	if err != nil {
		return nil, err
	}
	return []vrc.Target{t}, nil
}

// Names returns alias and group names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Aliases)+len(c.Groups))
	for name := range c.Aliases {
		names = append(names, name)
	}
	for name := range c.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
