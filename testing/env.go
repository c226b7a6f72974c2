// Package testing prepares the process environment for package tests. Test
// files pull it in with a blank import so binaries and clients built during
// tests never reach real services.
package testing

import (
	"os"
	"sync"
)

// TestModeEnv is read by app.InTestMode.
const TestModeEnv = "ODYSSEY_TEST_MODE"

// unreachable endpoints used unless a test sets its own.
var fallbacks = map[string]string{
	"GOTENBERG_URL": "http://127.0.0.1:0",
	"REDIS_ADDR":    "127.0.0.1:0",
}

var once sync.Once

// Prepare forces test mode and points outbound services at closed ports.
// It is safe to call more than once.
func Prepare() {
	once.Do(func() {
		_ = os.Setenv(TestModeEnv, "1")
		for key, value := range fallbacks {
			if os.Getenv(key) == "" {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func init() {
	Prepare()
}
