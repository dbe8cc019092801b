package ci_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestGoTestsWorkflow(t *testing.T) {
	projectRoot := filepath.Clean(filepath.Join("..", ".."))
	relativePath := filepath.Join(".github", "workflows", "go-tests.yml")
	data, err := os.ReadFile(filepath.Join(projectRoot, relativePath))
	if err != nil {
		t.Fatalf("read workflow %q: %v", relativePath, err)
	}

	requiredSnippets := [][]byte{
		[]byte("go test ./..."),
		// the pgx vote table test skips without a live database
		[]byte("APP_TEST_POSTGRES_URL"),
		[]byte("image: postgres"),
	}
	for _, snippet := range requiredSnippets {
		if !bytes.Contains(data, snippet) {
			t.Fatalf("workflow %q missing required snippet %q", relativePath, string(snippet))
		}
	}
}
