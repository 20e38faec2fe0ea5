package testsupport

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}

	return data
}

// LoadFixtureJSON loads JSON test data from a fixture file and unmarshals it.
func LoadFixtureJSON(t testing.TB, path string, dest any) {
	t.Helper()

	data := LoadFixture(t, path)
	if err := json.Unmarshal(data, dest); err != nil {
		t.Fatalf("failed to unmarshal JSON fixture from %s: %v", path, err)
	}
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// LoadSeed reads a Seed fixture.
func LoadSeed(t testing.TB, path string) Seed {
	t.Helper()

	var s Seed
	LoadFixtureJSON(t, path, &s)
	return s
}

// StartFakeBackend serves a new FakeBackend until the test ends. The seed,
// when given, is loaded before the server starts.
func StartFakeBackend(t testing.TB, seeds ...Seed) (*FakeBackend, *httptest.Server) {
	t.Helper()

	backend := NewFakeBackend()
	for _, s := range seeds {
		backend.Seed(s)
	}
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)
	return backend, srv
}
