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

package ingest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Spooled holds uploaded content memory-bounded: small payloads stay in
// memory, larger ones spill to a temp file.
type Spooled struct {
	buf  []byte
	path string
	size int64
}

// Spool reads r fully, keeping at most threshold bytes in memory before
// switching to a temp file.
func Spool(r io.Reader, threshold int64, fileName string) (*Spooled, error) {
	var buf bytes.Buffer
	n, err := io.CopyN(&buf, r, threshold+1)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	if n <= threshold {
		return &Spooled{buf: buf.Bytes(), size: n}, nil
	}

	// Over threshold: spill everything read so far plus the rest to disk.
	f, err := os.CreateTemp("", "sage-upload-*"+filepath.Ext(fileName))
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write spool file: %w", err)
	}
	rest, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write spool file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("close spool file: %w", err)
	}

	return &Spooled{path: f.Name(), size: n + rest}, nil
}

// Size returns the content length.
func (s *Spooled) Size() int64 {
	return s.size
}

// Reader returns a fresh reader over the full content.
func (s *Spooled) Reader() (io.ReadCloser, error) {
	if s.path == "" {
		return io.NopCloser(bytes.NewReader(s.buf)), nil
	}
	return os.Open(s.path)
}

// Path returns a filesystem path to the content, materializing in-memory
// content into a temp file on first call.
func (s *Spooled) Path(fileName string) (string, error) {
	if s.path != "" {
		return s.path, nil
	}
	f, err := os.CreateTemp("", "sage-upload-*"+filepath.Ext(fileName))
	if err != nil {
		return "", fmt.Errorf("materialize spool: %w", err)
	}
	if _, err := f.Write(s.buf); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("materialize spool: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("materialize spool: %w", err)
	}
	s.path = f.Name()
	return s.path, nil
}

// Close removes any temp file.
func (s *Spooled) Close() error {
	if s.path != "" {
		err := os.Remove(s.path)
		s.path = ""
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
