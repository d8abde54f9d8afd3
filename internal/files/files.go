// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package files manages downloaded documents on the local filesystem.
// It backs the download and document-save sides of action handling.
package files

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/lexforge/lexchat/internal/util"
)

const downloadTimeout = 2 * time.Minute

// Manager saves documents into a fixed download directory.
type Manager struct {
	dir    string
	client *http.Client
}

// NewManager creates a manager for the given directory. The directory
// is created on first use.
func NewManager(dir string) *Manager {
	return &Manager{
		dir:    dir,
		client: &http.Client{Timeout: downloadTimeout},
	}
}

// Download fetches url into the download directory under fileName and
// returns the saved path.
func (m *Manager) Download(ctx context.Context, url, fileName string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 100<<20))
	if err != nil {
		return "", fmt.Errorf("download read failed: %w", err)
	}
	return m.write(fileName, data)
}

// SaveDocument writes generated document content and returns the saved
// path.
func (m *Manager) SaveDocument(fileName, content string) (string, error) {
	return m.write(fileName, []byte(content))
}

// write saves data under a collision-free name in the download
// directory.
func (m *Manager) write(fileName string, data []byte) (string, error) {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	path := m.uniquePath(fileName)
	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// uniquePath appends " (n)" before the extension until the name is
// free, matching browser download behavior.
func (m *Manager) uniquePath(fileName string) string {
	base := filepath.Base(fileName)
	if base == "." || base == string(filepath.Separator) {
		base = "document"
	}
	path := filepath.Join(m.dir, base)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	for i := 1; ; i++ {
		candidate := filepath.Join(m.dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
