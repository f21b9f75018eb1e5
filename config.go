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

package pos

import (
	"errors"
	"fmt"
	"time"
)

// Config configures a point-of-sale process. It loads from YAML via
// app/config.
type Config struct {
	// Relays are the broadcast-network endpoints orders and receipts
	// travel over. The first one is the checkout's home relay.
	Relays []string `yaml:"relays"`

	// Destination is the operator's payment address (user@host) or a raw
	// discovery URL. The recipient identity that signs receipts is
	// discovered behind it at startup, never configured directly.
	Destination string `yaml:"destination"`

	// SecretKey is the hex-encoded local signing key. Empty means a
	// throwaway identity is generated at startup.
	SecretKey string `yaml:"secret_key"`

	// FiatCurrency is the currency carts are priced in.
	FiatCurrency string `yaml:"fiat_currency"`

	// SatsPerUnit is the demo conversion rate used by the CLI when no
	// rate source is wired in.
	SatsPerUnit float64 `yaml:"sats_per_unit"`

	// SinceWindow bounds how far back the receipt subscription reaches,
	// to avoid replaying ancient history.
	SinceWindow time.Duration `yaml:"since_window"`

	// InvoiceTimeout caps a single instruction-minting round trip.
	InvoiceTimeout time.Duration `yaml:"invoice_timeout"`
}

// DefaultConfig returns a Config with default values set.
func DefaultConfig() Config {
	return Config{
		FiatCurrency:   "ARS",
		SinceWindow:    time.Hour,
		InvoiceTimeout: 10 * time.Second,
	}
}

// IsValid implements config.Validator.
func (c *Config) IsValid() error {
	if c.Destination == "" {
		return errors.New("destination is required")
	}
	if c.FiatCurrency == "" {
		return errors.New("fiat_currency is required")
	}
	if c.InvoiceTimeout <= 0 {
		return fmt.Errorf("invoice_timeout must be positive, got %s", c.InvoiceTimeout)
	}
	return nil
}
