//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// TempDBPath creates a temporary database path for testing
func TempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "test.db")
}

// WriteDataset writes a small county-level minimum wage panel and returns
// its path.
func WriteDataset(t *testing.T) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("county,state,year,min_wage,teen_emp,treated\n")
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "c%02d,%s,%d,%.2f,%d,%d\n", i, []string{"NJ", "PA"}[i%2], 1990+i%4, 4.25+float64(i%2)*0.8, 100+i, i%2)
	}
	path := filepath.Join(t.TempDir(), "minimum-wage.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// WriteDocs writes a documentation directory for repair lookups.
func WriteDocs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	doc := `# Interpreter notes

## Undefined identifiers
An undefined identifier usually means a package was used without an import.
Import packages in a declaration cell before using them.

## Plotting
Save figures to the working directory.
`
	if err := os.WriteFile(filepath.Join(dir, "interpreter.md"), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

// ScriptedClient answers generation requests with a test-supplied function
// and remembers every prompt it was sent.
type ScriptedClient struct {
	Respond func(user string) string

	mu      sync.Mutex
	prompts []string
}

func (c *ScriptedClient) Complete(ctx context.Context, system, user string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.prompts = append(c.prompts, user)
	c.mu.Unlock()
	return c.Respond(user), nil
}

// Prompts returns the prompts containing substr.
func (c *ScriptedClient) Prompts(substr string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, p := range c.prompts {
		if strings.Contains(p, substr) {
			out = append(out, p)
		}
	}
	return out
}

func goCell(code string) string {
	return "```go\n" + strings.TrimSpace(code) + "\n```"
}
