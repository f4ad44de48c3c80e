package params

import "testing"

// SetupTestConfigCleanup preserves the current configuration and restores it
// when the test and all its subtests complete.
func SetupTestConfigCleanup(t testing.TB) {
	prevConfig := BridgeConfig().Copy()
	t.Cleanup(func() {
		OverrideBridgeConfig(prevConfig)
	})
}
