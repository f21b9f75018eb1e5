// Copyright 2025 La Crypta

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     https://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lawalletio/pos-lite/app/config"
)

type testConfig struct {
	Destination string        `yaml:"destination"`
	Relays      []string      `yaml:"relays"`
	Timeout     time.Duration `yaml:"timeout"`

	valid bool
}

func (c *testConfig) IsValid() error {
	if !c.valid && c.Destination == "" {
		return errors.New("destination is required")
	}
	return nil
}

func TestMergeYAML(t *testing.T) {
	t.Parallel()

	var cfg testConfig
	src := strings.NewReader("destination: shop@pay.test\nrelays: [wss://a, wss://b]\ntimeout: 5s\n")
	require.NoError(t, config.MergeYAML(&cfg, src))
	require.Equal(t, "shop@pay.test", cfg.Destination)
	require.Equal(t, []string{"wss://a", "wss://b"}, cfg.Relays)
	require.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestMergeYAMLExpandsEnv(t *testing.T) {
	t.Setenv("TEST_POS_DEST", "bar@pay.test")

	var cfg testConfig
	src := strings.NewReader("destination: ${TEST_POS_DEST}\n")
	require.NoError(t, config.MergeYAML(&cfg, src))
	require.Equal(t, "bar@pay.test", cfg.Destination)
}

func TestMergeYAMLFallback(t *testing.T) {
	t.Parallel()

	var cfg testConfig
	src := strings.NewReader("destination: ${TEST_POS_UNSET_DEST:-fallback@pay.test}\n")
	require.NoError(t, config.MergeYAML(&cfg, src))
	require.Equal(t, "fallback@pay.test", cfg.Destination)
}

func TestMergeYAMLMissingEnv(t *testing.T) {
	t.Parallel()

	var cfg testConfig
	src := strings.NewReader("destination: ${TEST_POS_UNSET_DEST}\n")
	err := config.MergeYAML(&cfg, src)
	require.ErrorContains(t, err, "TEST_POS_UNSET_DEST")
}

func TestMergeEnv(t *testing.T) {
	t.Setenv("TEST_POS_RELAYS", "wss://a, wss://b,")
	t.Setenv("TEST_POS_TIMEOUT", "not-a-duration")

	var cfg testConfig
	err := config.MergeEnv(&cfg, map[string]config.Binding[testConfig]{
		"TEST_POS_RELAYS": {Set: func(c *testConfig, v string) error {
			return config.SetStrings(&c.Relays, v)
		}},
		"TEST_POS_TIMEOUT": {Set: func(c *testConfig, v string) error {
			return config.SetDuration(&c.Timeout, v)
		}},
		"TEST_POS_MISSING": {Required: true, Set: func(c *testConfig, v string) error {
			return config.SetString(&c.Destination, v)
		}},
	})

	// Errors accumulate; valid bindings still land.
	require.ErrorContains(t, err, "TEST_POS_TIMEOUT")
	require.ErrorContains(t, err, "TEST_POS_MISSING")
	require.Equal(t, []string{"wss://a", "wss://b"}, cfg.Relays)
}

func TestLoadValidates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("relays: [wss://a]\n"), 0o600))

	var cfg testConfig
	err := config.Load(&cfg, path, nil)
	require.ErrorContains(t, err, "destination is required")

	cfg = testConfig{valid: true}
	require.NoError(t, config.Load(&cfg, path, nil))
	require.Equal(t, []string{"wss://a"}, cfg.Relays)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	var cfg testConfig
	err := config.Load(&cfg, filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.ErrorContains(t, err, "failed to open config file")
}
