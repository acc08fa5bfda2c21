// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
)

// Source is a file to be sent. Open may be called more than once; the
// sender reads the source once to digest it and once to stream it.
type Source interface {
	Name() string
	Size() uint64
	MimeType() string
	Open() (io.ReadCloser, error)
}

// FileSource reads from a file on disk.
type FileSource struct {
	path string
	name string
	size uint64
}

// NewFileSource stats path and returns a source for it.
func NewFileSource(path string) (*FileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stating source file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("source %q is a directory", path)
	}
	return &FileSource{
		path: path,
		name: filepath.Base(path),
		size: uint64(info.Size()),
	}, nil
}

func (s *FileSource) Name() string { return s.name }
func (s *FileSource) Size() uint64 { return s.size }

func (s *FileSource) MimeType() string {
	if mimeType := mime.TypeByExtension(filepath.Ext(s.name)); mimeType != "" {
		return mimeType
	}
	return "application/octet-stream"
}

func (s *FileSource) Open() (io.ReadCloser, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening source file: %w", err)
	}
	return file, nil
}

// BytesSource serves an in-memory byte slice. Used in tests and for
// small generated payloads.
type BytesSource struct {
	name     string
	mimeType string
	data     []byte
}

func NewBytesSource(name, mimeType string, data []byte) *BytesSource {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &BytesSource{name: name, mimeType: mimeType, data: data}
}

func (s *BytesSource) Name() string     { return s.name }
func (s *BytesSource) Size() uint64     { return uint64(len(s.data)) }
func (s *BytesSource) MimeType() string { return s.mimeType }

func (s *BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}
