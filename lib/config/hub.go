// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"

	"github.com/bureau-foundation/dispatch/transport"
)

// Options converts the hub section into dial options for a client
// publishing as publisher.
func (h HubConfig) Options(publisher string, logger *slog.Logger) (transport.HubOptions, error) {
	compression, err := transport.ParseCompression(h.Compression)
	if err != nil {
		return transport.HubOptions{}, err
	}
	return transport.HubOptions{
		Publisher:            publisher,
		Compression:          compression,
		CompressionThreshold: h.CompressionThreshold,
		DedupWindow:          h.DedupWindow,
		Logger:               logger,
	}, nil
}
