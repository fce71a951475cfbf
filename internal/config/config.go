// Package config loads the client's injected configuration from a YAML
// file, following the same load-from-path-with-env-override shape the
// rest of this project's server siblings use for their own config
// structs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPath is the environment variable that, when set, overrides
// DefaultPath.
const EnvPath = "MS2CLIENT_CONFIG"

// DefaultPath is used when EnvPath is unset.
const DefaultPath = "config/fieldbot.yaml"

// Session holds the process-wide protocol constants the handshake
// validates against. These are never package-level globals (see spec's
// injected-configuration design note); every component that needs them
// receives a *Session explicitly.
type Session struct {
	Version  uint32 `yaml:"version"`
	FieldKey int32  `yaml:"field_key"`
}

// Client holds connection defaults and deadlines for the CLI
// orchestrator. CLI flags and positional arguments override these
// values when present.
type Client struct {
	Session Session `yaml:"session"`

	Host     string `yaml:"host"`
	Port     uint16 `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	WaitTimeout       time.Duration `yaml:"wait_timeout"`
	FieldEnterTimeout time.Duration `yaml:"field_enter_timeout"`
	CharacterTimeout  time.Duration `yaml:"character_timeout"`
}

// Default returns the configuration used when no file is found at the
// resolved path, matching the CLI's own documented defaults
// (127.0.0.1:20001, testbot/testbot).
func Default() Client {
	return Client{
		Session: Session{
			Version:  12,
			FieldKey: 0x1234,
		},
		Host:              "127.0.0.1",
		Port:              20001,
		Username:          "testbot",
		Password:          "testbot",
		WaitTimeout:       10 * time.Second,
		FieldEnterTimeout: 30 * time.Second,
		CharacterTimeout:  10 * time.Second,
	}
}

// LoadClient reads and parses a Client config from path, resolved from
// EnvPath when path is empty. A missing file is not an error: the
// defaults are returned as-is, since the CLI's positional args are
// expected to be the primary way of pointing the client at a server.
func LoadClient(path string) (Client, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath
		if p := os.Getenv(EnvPath); p != "" {
			path = p
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return cfg, nil
}
