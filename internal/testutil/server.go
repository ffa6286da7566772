// Shared test server setup used by the API and integration tests.

package testutil

import (
	"testing"

	"github.com/Shenoy37/voicenotes/internal/api"
	"github.com/Shenoy37/voicenotes/internal/config"
	"github.com/Shenoy37/voicenotes/internal/core"
)

// testConfig returns a configuration suitable for tests: in-memory
// database, fast polling, temp storage.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Database.Path = ":memory:"
	cfg.Storage.Path = t.TempDir()
	cfg.Worker.ReadyTimeoutSec = 2
	cfg.Worker.RequestTimeoutSec = 2
	cfg.Worker.GraceTimeoutSec = 1
	cfg.Worker.MaxRestarts = 3
	cfg.Worker.BackoffBaseMs = 5
	cfg.Worker.BackoffMaxMs = 20
	cfg.Transcribe.PollIntervalSec = 1
	cfg.Transcribe.PollBudgetSec = 10
	cfg.Push.PingIntervalSec = 3600
	cfg.Push.SweepIntervalSec = 3600
	cfg.Push.StaleAfterSec = 3600
	return cfg
}

// SetupTestApp builds a full core.App backed by an in-memory database and
// a scripted fake transcription worker.
func SetupTestApp(t *testing.T) (*core.App, *FakeWorker) {
	t.Helper()

	fw := NewFakeWorker()
	app, err := core.NewWithLauncher(testConfig(t), fw.Launch)
	if err != nil {
		t.Fatalf("Failed to set up test app: %v", err)
	}
	t.Cleanup(app.Close)
	return app, fw
}

// SetupTestServer initializes a core.App and api.Server for integration
// testing.
func SetupTestServer(t *testing.T) (*api.Server, *core.App, *FakeWorker) {
	t.Helper()
	app, fw := SetupTestApp(t)
	return api.NewServer(app), app, fw
}
