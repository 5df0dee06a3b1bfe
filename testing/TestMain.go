// Package testing puts the ledger binaries into test mode. Blank-import it from
// a main package test so main() returns before dialing any backing service.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"

	"github.com/eduai/schoolledger/internal/app"
)

var setup sync.Once

func enableTestMode() {
	setup.Do(func() {
		_ = os.Setenv(app.TestModeEnv, "1")
		if _, ok := os.LookupEnv("ENV_FILE"); !ok {
			_ = os.Setenv("ENV_FILE", os.DevNull)
		}
		app.RefreshTestMode()
	})
}

func init() { enableTestMode() }

func TestMain(m *stdtesting.M) {
	enableTestMode()
	os.Exit(m.Run())
}
