package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

// TestModeEnv makes both binaries return before touching Postgres or Redis.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var testMode atomic.Pointer[bool]

func readTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}

// InTestMode reports whether runtime startup should be skipped. The
// environment is read on first use and cached.
func InTestMode() bool {
	if cached := testMode.Load(); cached != nil {
		return *cached
	}
	on := readTestMode()
	testMode.CompareAndSwap(nil, &on)
	return *testMode.Load()
}

// RefreshTestMode re-reads the environment, for tests that toggle it.
func RefreshTestMode() bool {
	on := readTestMode()
	testMode.Store(&on)
	return on
}
