package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadPath loads a single .rego file, or every .rego file under a directory
func (e *Engine) LoadPath(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("policy path %s: %w", path, err)
	}

	if !info.IsDir() {
		return e.loadFile(ctx, filepath.Dir(path), path)
	}

	return filepath.Walk(path, func(file string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(file, ".rego") {
			return nil
		}
		return e.loadFile(ctx, path, file)
	})
}

func (e *Engine) loadFile(ctx context.Context, root, file string) error {
	if err := validateFilePath(root, file); err != nil {
		return fmt.Errorf("invalid file path %s: %w", file, err)
	}

	content, err := os.ReadFile(filepath.Clean(file))
	if err != nil {
		return fmt.Errorf("failed to read policy file %s: %w", file, err)
	}

	name := strings.TrimSuffix(filepath.Base(file), ".rego")
	if err := e.LoadPolicy(ctx, name, string(content)); err != nil {
		return fmt.Errorf("failed to load policy %s from %s: %w", name, file, err)
	}
	return nil
}

func validateFilePath(root, file string) error {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(file))
	if err != nil {
		return fmt.Errorf("failed to resolve relative path: %w", err)
	}

	if strings.HasPrefix(rel, "..") || strings.Contains(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected")
	}
	return nil
}
