// Package guard flags the process as running under tests so binaries and
// helpers skip runtime side effects. Import it for its side effect.
package guard

import (
	"os"
	"sync"
)

// Env names the variable read by app.InTestMode.
const Env = "TRADEBOOK_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(Env) == "" {
			_ = os.Setenv(Env, "1")
		}
	})
}
