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

// Package config loads application configuration from a YAML file with
// environment expansion, then overlays individual environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Validator is optionally implemented by a configuration to run
// cross-field checks after loading.
type Validator interface {
	IsValid() error
}

// Load fills cfg from the YAML file at path (skipped when path is empty),
// overlays the environment via the bindings, and validates the result when
// *T implements Validator.
func Load[T any](cfg *T, path string, bindings map[string]Binding[T]) error {
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		if err := MergeYAML(cfg, f); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := MergeEnv(cfg, bindings); err != nil {
		return err
	}

	if v, ok := any(cfg).(Validator); ok {
		if err := v.IsValid(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return nil
}

// MergeYAML merges YAML from src into cfg. `${VAR}` references expand to
// the variable's value and error when it is unset; `${VAR:-fallback}`
// falls back instead.
func MergeYAML[T any](cfg *T, src io.Reader) error {
	raw, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	var missing []string
	expanded := os.Expand(string(raw), func(ref string) string {
		name, fallback, hasFallback := strings.Cut(ref, ":-")
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})
	if len(missing) > 0 {
		return fmt.Errorf("config references unset environment variables: %v", missing)
	}

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

// Binding applies one environment variable to the configuration. Required
// bindings error when the variable is unset.
type Binding[T any] struct {
	Required bool
	Set      func(cfg *T, val string) error
}

// MergeEnv overlays bound environment variables onto cfg. It collects all
// binding errors rather than stopping at the first.
func MergeEnv[T any](cfg *T, bindings map[string]Binding[T]) error {
	var errs error
	for name, b := range bindings {
		val, ok := os.LookupEnv(name)
		if !ok {
			if b.Required {
				errs = errors.Join(errs, fmt.Errorf("missing required env variable %s", name))
			}
			continue
		}
		if err := b.Set(cfg, val); err != nil {
			errs = errors.Join(errs, fmt.Errorf("invalid env variable %s: %w", name, err))
		}
	}
	return errs
}

// SetString is a binding helper for string fields.
func SetString(tgt *string, val string) error {
	*tgt = val
	return nil
}

// SetStrings is a binding helper for comma-separated list fields.
func SetStrings(tgt *[]string, val string) error {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*tgt = out
	return nil
}

// SetDuration is a binding helper for duration fields.
func SetDuration(tgt *time.Duration, val string) error {
	d, err := time.ParseDuration(val)
	if err != nil {
		return err
	}
	*tgt = d
	return nil
}
