// Package profile confines per-session browser profile directories to a
// single root. Session ids are caller-supplied, so every id is validated
// before it becomes part of a filesystem path.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Guard resolves session ids to profile directories under a fixed root.
type Guard struct {
	rootDir string // Absolute, symlink-free path to the profile root
}

// NewGuard creates a guard for the given root directory.
// The root is created if missing, converted to an absolute path, and its
// symlinks are evaluated so later prefix checks compare canonical paths.
func NewGuard(rootDir string) (*Guard, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("profile root cannot be empty")
	}

	absPath, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve profile root: %w", err)
	}

	if err := os.MkdirAll(absPath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create profile root: %w", err)
	}

	evalPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate profile root symlinks: %w", err)
	}

	return &Guard{rootDir: evalPath}, nil
}

// ValidateID reports whether id can be used as a single path element.
//
// Returns an error if:
// - The id is empty
// - The id is "." or ".."
// - The id contains a path separator or a NUL byte
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if id == "." || id == ".." {
		return fmt.Errorf("session id %q is not allowed", id)
	}
	if strings.ContainsAny(id, `/\`+"\x00") {
		return fmt.Errorf("session id %q contains forbidden characters", id)
	}
	return nil
}

// Dir returns the profile directory for a session id without creating it.
func (g *Guard) Dir(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}

	dir := filepath.Join(g.rootDir, id)
	if !g.IsWithinRoot(dir) {
		return "", fmt.Errorf("profile for session %q is outside the profile root", id)
	}
	return dir, nil
}

// Prepare returns the profile directory for id, creating it if needed.
// An existing directory is reused, which keeps cookies and storage across
// sessions with the same id.
func (g *Guard) Prepare(id string) (string, error) {
	dir, err := g.Dir(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create profile directory: %w", err)
	}

	// A pre-existing symlink named after the id could point anywhere.
	evalDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("failed to evaluate profile directory: %w", err)
	}
	if !g.IsWithinRoot(evalDir) || evalDir == g.rootDir {
		return "", fmt.Errorf("profile for session %q resolves outside the profile root", id)
	}
	return evalDir, nil
}

// IsWithinRoot checks if an absolute path is the root itself or a child of it.
func (g *Guard) IsWithinRoot(absPath string) bool {
	clean := filepath.Clean(absPath)
	return clean == g.rootDir ||
		strings.HasPrefix(clean+string(filepath.Separator), g.rootDir+string(filepath.Separator))
}

// Root returns the absolute profile root.
func (g *Guard) Root() string {
	return g.rootDir
}
