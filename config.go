// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"io/ioutil"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// RepositoriesEnvVar supplies extra platform repository URLs, separated
// by whitespace, in ascending order of precedence after the configured
// defaults. A bare "-" entry discards everything accumulated so far, so
// users can replace the defaults outright instead of extending them.
const RepositoriesEnvVar = "PLATFORM_REPOSITORIES"

// ConfigFileName is the optional per-project configuration file.
const ConfigFileName = "platform.toml"

// Config carries the pipeline's settings. Everything has a usable
// default; a config file and the environment refine it.
type Config struct {
	Stack  string `toml:"stack"`
	Arch   string `toml:"arch"`
	Distro string `toml:"distro"`

	// Repositories are platform repository URLs in ascending order of
	// precedence.
	Repositories []string `toml:"repositories"`

	CacheDir      string `toml:"cache-dir"`
	InstallerPath string `toml:"installer-path"`
	SolverBin     string `toml:"solver-bin"`
	WorkDir       string `toml:"work-dir"`

	// SolverTimeoutSeconds caps solver inactivity before the process is
	// killed.
	SolverTimeoutSeconds int `toml:"solver-timeout-seconds"`
}

// SolverTimeout returns the inactivity cap as a duration.
func (c *Config) SolverTimeout() time.Duration {
	return time.Duration(c.SolverTimeoutSeconds) * time.Second
}

// Target returns the config's target triple.
func (c *Config) Target() Target {
	return Target{Stack: c.Stack, Arch: c.Arch, Distro: c.Distro}
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		Stack:                "cnb-22",
		Arch:                 "amd64",
		Distro:               "ubuntu-22.04",
		SolverBin:            "composer",
		InstallerPath:        "installer",
		SolverTimeoutSeconds: 120,
	}
}

// LoadConfig builds the effective configuration for a project directory:
// defaults, then platform.toml if present, then the environment. A .env
// file in the project directory is folded into the environment first,
// without overriding variables already set.
func LoadConfig(dir string) (Config, error) {
	cfg := DefaultConfig()

	// Missing .env is the normal case.
	_ = godotenv.Load(dir + "/.env")

	path := dir + "/" + ConfigFileName
	if data, err := ioutil.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "could not parse %s", path)
		}
	} else if !os.IsNotExist(err) {
		return cfg, errors.Wrapf(err, "could not read %s", path)
	}

	cfg.Repositories = mergeRepositoryList(cfg.Repositories, os.Getenv(RepositoriesEnvVar))
	return cfg, nil
}

// mergeRepositoryList appends the whitespace-separated env entries to the
// configured URLs, honoring the "-" reset marker.
func mergeRepositoryList(urls []string, env string) []string {
	out := append([]string(nil), urls...)
	for _, entry := range strings.Fields(env) {
		if entry == "-" {
			out = out[:0]
			continue
		}
		out = append(out, entry)
	}
	return out
}
