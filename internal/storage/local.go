package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kanghyki/badang-post-office/pkg/config"
	pkgerrors "github.com/kanghyki/badang-post-office/pkg/errors"
)

const (
	stylizedDir = "stylized"
	renderedDir = "postcards"
)

// Local stores pipeline artifacts on the local filesystem under a single
// root. Paths handed back to callers are relative to that root, so the root
// can move between environments without rewriting rows.
type Local struct {
	root string
}

func NewLocal(cfg config.StorageConfig) (*Local, error) {
	root := cfg.Root
	if root == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "storage root is required")
	}
	for _, dir := range []string{stylizedDir, renderedDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to prepare storage root")
		}
	}
	return &Local{root: root}, nil
}

func (l *Local) Read(_ context.Context, path string) ([]byte, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to read stored file")
	}
	return data, nil
}

func (l *Local) SaveStylized(_ context.Context, data []byte, ext string) (string, error) {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "png"
	}
	return l.write(filepath.Join(stylizedDir, fmt.Sprintf("%s.%s", uuid.NewString(), ext)), data)
}

func (l *Local) SaveRendered(_ context.Context, data []byte) (string, error) {
	return l.write(filepath.Join(renderedDir, uuid.NewString()+".png"), data)
}

// Path resolves a stored relative path to its absolute location, for callers
// that hand files to other processes.
func (l *Local) Path(path string) (string, error) {
	return l.resolve(path)
}

func (l *Local) write(rel string, data []byte) (string, error) {
	if err := os.WriteFile(filepath.Join(l.root, rel), data, 0o644); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to write stored file")
	}
	return rel, nil
}

// resolve confines lookups to the storage root.
func (l *Local) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	full := filepath.Join(l.root, path)
	rel, err := filepath.Rel(l.root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "path escapes storage root").
			WithDetails(map[string]any{"path": path})
	}
	return full, nil
}
