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

// Package inttest holds helpers shared by integration-style tests.
package inttest

import (
	"io"
	"log/slog"
	"testing"

	slogenv "github.com/cbrewster/slog-env"
	"github.com/neilotoole/slogt"
)

// WrapLog routes the default logger through the test's log output so a
// failing run carries the process logs next to the assertions. Without -v
// it leaves the default logger alone. Level selection follows the LOG
// environment variable, defaulting to errors only.
func WrapLog(t *testing.T) *slog.Logger {
	if !testing.Verbose() {
		return slog.Default()
	}

	f := slogt.Factory(func(w io.Writer) slog.Handler {
		replacer := func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String(a.Key, a.Value.Time().Format("15:04:05.000"))
			}
			return a
		}
		text := slog.NewTextHandler(w, &slog.HandlerOptions{ReplaceAttr: replacer})
		return slogenv.NewHandler(text, slogenv.WithDefaultLevel(slog.LevelError))
	})

	l := slogt.New(t, f)
	slog.SetDefault(l)
	return l
}
