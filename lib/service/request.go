// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"

	"github.com/bureau-foundation/dispatch/lib/codec"
)

// DecodeRequest decodes a raw request into T. Fields of the request
// that T does not declare, including "action", are ignored.
func DecodeRequest[T any](raw []byte) (T, error) {
	var request T
	if err := codec.Unmarshal(raw, &request); err != nil {
		return request, fmt.Errorf("invalid request: %w", err)
	}
	return request, nil
}
