// roomsync - A chat timeline sync engine with moderation-gated sends.
// Copyright (C) 2025 Rowan Veldt
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package picker implements the device file picker / encoder boundary over
// the local filesystem: the integration queues a path per pick intent, and
// picked files are base64-encoded with their media type sniffed from magic
// bytes.
package picker

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/rosterlabs/roomsync/pkg/chat"
)

// DefaultMaxBytes caps the size of a pickable file.
const DefaultMaxBytes = 10 << 20

// FS implements chat.Picker over the local filesystem. Pick pops the next
// queued path; Queue is called once per user pick intent (e.g. the CLI's
// /attach command).
type FS struct {
	log      zerolog.Logger
	maxBytes int64

	mu     sync.Mutex
	queued []string
}

// NewFS returns a filesystem picker with the default size cap.
func NewFS(log zerolog.Logger) *FS {
	return &FS{
		log:      log.With().Str("component", "picker").Logger(),
		maxBytes: DefaultMaxBytes,
	}
}

// Queue registers a path to satisfy the next Pick call.
func (f *FS) Queue(path string) {
	f.mu.Lock()
	f.queued = append(f.queued, path)
	f.mu.Unlock()
}

// Pick resolves the next queued path to a picked file.
func (f *FS) Pick(ctx context.Context) (chat.PickedFile, error) {
	f.mu.Lock()
	var path string
	if len(f.queued) > 0 {
		path = f.queued[0]
		f.queued = f.queued[1:]
	}
	f.mu.Unlock()
	if path == "" {
		return chat.PickedFile{}, chat.ErrNothingStaged
	}
	info, err := os.Stat(path)
	if err != nil {
		return chat.PickedFile{}, fmt.Errorf("stat picked file: %w", err)
	}
	if info.IsDir() {
		return chat.PickedFile{}, fmt.Errorf("picked path %q is a directory", path)
	}
	return chat.PickedFile{
		URI:         path,
		DisplayName: filepath.Base(path),
	}, nil
}

// ReadAsEncoded reads the picked file's bytes, sniffs the media type from
// magic bytes, and returns the base64 transmittable encoding.
func (f *FS) ReadAsEncoded(ctx context.Context, uri string) (string, string, error) {
	info, err := os.Stat(uri)
	if err != nil {
		return "", "", fmt.Errorf("read picked file: %w", err)
	}
	if info.Size() > f.maxBytes {
		return "", "", fmt.Errorf("picked file %q is %d bytes, cap is %d", uri, info.Size(), f.maxBytes)
	}
	data, err := os.ReadFile(uri)
	if err != nil {
		return "", "", fmt.Errorf("read picked file: %w", err)
	}

	mediaType := mimetype.Detect(data).String()
	logEvt := f.log.Debug().Str("uri", uri).Str("media_type", mediaType).Int("bytes", len(data))
	// Probe image dimensions for the log; decode registration covers GIF,
	// JPEG, PNG (stdlib) plus TIFF and WebP (x/image).
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		logEvt = logEvt.Int("width", cfg.Width).Int("height", cfg.Height)
	}
	logEvt.Msg("Encoded picked file")

	return base64.StdEncoding.EncodeToString(data), mediaType, nil
}

var _ chat.Picker = (*FS)(nil)
