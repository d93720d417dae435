// Package guard is blank-imported by cmd tests so main() returns before
// dialling Postgres or Redis.
package guard

import "os"

// EnvVar mirrors app.TestModeEnv.
const EnvVar = "ODYSSEY_TEST_MODE"

func init() {
	if _, set := os.LookupEnv(EnvVar); !set {
		_ = os.Setenv(EnvVar, "1")
	}
}
