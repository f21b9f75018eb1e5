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

// Package app runs a long-lived process until its context is cancelled,
// then shuts it down gracefully.
package app

import (
	"context"
	"log/slog"
	"time"
)

var shutdownGrace = 30 * time.Second

// App is a process that can run and be shut down gracefully. Calling
// Shutdown must cause Run to return; if Run returns on its own, Shutdown
// is never called.
type App interface {
	Run() error
	Shutdown(ctx context.Context) error
}

// Run drives the app until ctx is cancelled and returns a process exit
// code. A shutdown that the app ignores is abandoned after a grace period
// rather than hanging the process forever.
func Run(ctx context.Context, a App) int {
	runDone := make(chan error, 1)
	go func() {
		runDone <- a.Run()
	}()

	var runErr, shutdownErr error
	select {
	case runErr = <-runDone:
	case <-ctx.Done():
		slog.Info("shutting down", "reason", ctx.Err())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		shutdownErr = a.Shutdown(shutdownCtx)
		cancel()
		if shutdownErr != nil {
			slog.Error("failed to shut down gracefully", "error", shutdownErr)
		}

		select {
		case runErr = <-runDone:
		case <-time.After(shutdownGrace):
			slog.Error("run did not stop within the grace period")
			return 1
		}
	}

	if runErr != nil {
		slog.Error("app stopped with error", "error", runErr)
	}
	if runErr != nil || shutdownErr != nil {
		return 1
	}
	return 0
}
