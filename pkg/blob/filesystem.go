// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/fault"
)

// FilesystemStore implements Store on a local directory tree.
type FilesystemStore struct {
	root    string
	baseURL string
}

// NewFilesystemStore creates the store, ensuring the root directory exists.
func NewFilesystemStore(cfg *config.BlobConfig) (*FilesystemStore, error) {
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FilesystemStore{
		root:    cfg.Root,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}, nil
}

// Put streams content to disk under the canonical key.
func (s *FilesystemStore) Put(ctx context.Context, ownerEmail, fileName string, content io.Reader) (string, string, error) {
	const op = "blob.put"

	key := ObjectKey(ownerEmail, fileName, time.Now())
	path := filepath.Join(s.root, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", "", fault.Wrapf(fault.KindTransient, op, err, "create directory")
	}

	f, err := os.Create(path)
	if err != nil {
		return "", "", fault.Wrapf(fault.KindTransient, op, err, "create file")
	}
	defer f.Close()

	if _, err := io.Copy(f, content); err != nil {
		os.Remove(path)
		return "", "", fault.Wrapf(fault.KindTransient, op, err, "write file")
	}
	return key, s.urlFor(key), nil
}

// GetURL returns the serveable URL for an existing key.
func (s *FilesystemStore) GetURL(ctx context.Context, key string) (string, error) {
	const op = "blob.get_url"

	path := filepath.Join(s.root, filepath.FromSlash(key))
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fault.New(fault.KindNotFound, op, "blob %s not found", key)
		}
		return "", fault.Wrap(fault.KindTransient, op, err)
	}
	return s.urlFor(key), nil
}

// Delete removes the stored binary; missing keys are ignored.
func (s *FilesystemStore) Delete(ctx context.Context, key string) error {
	const op = "blob.delete"

	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fault.Wrap(fault.KindTransient, op, err)
	}
	return nil
}

// Path returns the absolute filesystem path for a key.
func (s *FilesystemStore) Path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *FilesystemStore) urlFor(key string) string {
	return s.baseURL + "/" + key
}

var _ Store = (*FilesystemStore)(nil)
