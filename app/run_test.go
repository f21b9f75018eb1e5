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

package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lawalletio/pos-lite/app"
)

type fakeApp struct {
	runErr      error
	shutdownErr error

	stop     chan struct{}
	shutdown bool
}

func newFakeApp() *fakeApp {
	return &fakeApp{stop: make(chan struct{})}
}

func (a *fakeApp) Run() error {
	<-a.stop
	return a.runErr
}

func (a *fakeApp) Shutdown(context.Context) error {
	a.shutdown = true
	close(a.stop)
	return a.shutdownErr
}

func TestRunExitsWhenAppStops(t *testing.T) {
	t.Parallel()

	a := newFakeApp()
	close(a.stop)
	require.Equal(t, 0, app.Run(context.Background(), a))
	require.False(t, a.shutdown)
}

func TestRunReportsAppError(t *testing.T) {
	t.Parallel()

	a := newFakeApp()
	a.runErr = errors.New("boom")
	close(a.stop)
	require.Equal(t, 1, app.Run(context.Background(), a))
}

func TestRunShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := newFakeApp()
	require.Equal(t, 0, app.Run(ctx, a))
	require.True(t, a.shutdown)
}

func TestRunReportsShutdownError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := newFakeApp()
	a.shutdownErr = errors.New("stuck")
	require.Equal(t, 1, app.Run(ctx, a))
}
