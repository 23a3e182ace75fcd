package testsupport

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}

	return data
}

// LoadFixtureJSON loads JSON test data from a fixture file and unmarshals it.
func LoadFixtureJSON(t *testing.T, path string, dest any) {
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

// ServeFixture returns a handler that replies 200 with the fixture body.
// The fixture is read once, when the handler is built.
func ServeFixture(t *testing.T, filename string) http.HandlerFunc {
	t.Helper()

	body := LoadFixture(t, FixturePath(filename))
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}
}

// Envelope wraps v in the {"data": v} shape the remote API answers with.
func Envelope(t *testing.T, v any) []byte {
	t.Helper()

	data, err := json.Marshal(map[string]any{"data": v})
	if err != nil {
		t.Fatalf("failed to marshal envelope: %v", err)
	}
	return data
}
