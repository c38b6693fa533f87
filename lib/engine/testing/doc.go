// Package testing provides a conformance suite for engine.Engine implementations.
//
// Every adapter calls RunEngineTests from its own _test.go file with a factory that
// creates a fresh, empty engine:
//
//	func TestEngine(t *testing.T) {
//		enginetesting.RunEngineTests(t, "bolt", func(t testing.TB) engine.Engine {
//			db, err := bolt.Open(bolt.DefaultOptions(t.TempDir()))
//			require.NoError(t, err)
//			return db
//		})
//	}
//
// Tests for optional behaviour (duplicate keys) are skipped when the engine does not
// advertise the corresponding engine.Feature.
package testing
