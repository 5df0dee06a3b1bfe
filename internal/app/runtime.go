package app

import (
	"os"
	"sync"
	"sync/atomic"
)

// TestModeEnv, when "1", makes the binaries return from main before touching
// Postgres, Redis or the network.
const TestModeEnv = "LEDGER_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeInit sync.Once
)

func readTestMode() { testMode.Store(os.Getenv(TestModeEnv) == "1") }

// InTestMode reports the cached test-mode flag.
func InTestMode() bool {
	testModeInit.Do(readTestMode)
	return testMode.Load()
}

// RefreshTestMode re-reads the flag, for tests that set the variable late.
func RefreshTestMode() {
	testModeInit.Do(func() {})
	readTestMode()
}
