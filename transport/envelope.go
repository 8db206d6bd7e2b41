// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// Compression identifies how an envelope payload is encoded. Values
// are protocol constants.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

// String returns the configuration name of c.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a configuration name. The empty string
// selects LZ4.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// Envelope wraps one published payload on a hub connection.
type Envelope struct {
	// ID is the BLAKE3 keyed hash of publisher, sequence, topic and
	// the uncompressed payload. A redelivered envelope has the same
	// ID.
	ID []byte `cbor:"id"`

	Publisher   string      `cbor:"publisher"`
	Sequence    uint64      `cbor:"seq"`
	Topic       string      `cbor:"topic"`
	Compression Compression `cbor:"compression,omitempty"`

	// Size is the uncompressed payload length.
	Size    int    `cbor:"size"`
	Payload []byte `cbor:"payload"`
}

// envelopeDomainKey separates envelope ids from any other BLAKE3 use.
var envelopeDomainKey = [32]byte{
	'd', 'i', 's', 'p', 'a', 't', 'c', 'h', '.', 't', 'r', 'a', 'n', 's', 'p', 'o',
	'r', 't', '.', 'e', 'n', 'v', 'e', 'l', 'o', 'p', 'e', 0, 0, 0, 0, 0,
}

var errIncompressible = errors.New("payload did not shrink")

func envelopeID(publisher string, sequence uint64, topic string, payload []byte) []byte {
	hasher, err := blake3.NewKeyed(envelopeDomainKey[:])
	if err != nil {
		panic("transport: blake3 keyed hasher: " + err.Error())
	}
	var number [8]byte
	writeField := func(field []byte) {
		binary.BigEndian.PutUint64(number[:], uint64(len(field)))
		hasher.Write(number[:])
		hasher.Write(field)
	}
	writeField([]byte(publisher))
	binary.BigEndian.PutUint64(number[:], sequence)
	hasher.Write(number[:])
	writeField([]byte(topic))
	writeField(payload)
	return hasher.Sum(nil)
}

// sealEnvelope builds the envelope for one publish. Payloads of at
// least threshold bytes are compressed unless compression does not
// shrink them.
func sealEnvelope(publisher string, sequence uint64, topic string, payload []byte, compression Compression, threshold int) (Envelope, error) {
	envelope := Envelope{
		ID:        envelopeID(publisher, sequence, topic, payload),
		Publisher: publisher,
		Sequence:  sequence,
		Topic:     topic,
		Size:      len(payload),
		Payload:   payload,
	}
	if compression == CompressionNone || len(payload) < threshold {
		return envelope, nil
	}

	compressed, err := compress(payload, compression)
	if errors.Is(err, errIncompressible) {
		return envelope, nil
	}
	if err != nil {
		return Envelope{}, err
	}
	envelope.Compression = compression
	envelope.Payload = compressed
	return envelope, nil
}

// Open decompresses the payload and checks it against the envelope ID.
func (e Envelope) Open() ([]byte, error) {
	payload, err := decompress(e.Payload, e.Compression, e.Size)
	if err != nil {
		return nil, fmt.Errorf("envelope %d from %s: %w", e.Sequence, e.Publisher, err)
	}
	if !bytes.Equal(envelopeID(e.Publisher, e.Sequence, e.Topic, payload), e.ID) {
		return nil, fmt.Errorf("envelope %d from %s: id does not match payload", e.Sequence, e.Publisher)
	}
	return payload, nil
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("transport: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("transport: zstd decoder initialization failed: " + err.Error())
	}
}

func compress(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", compression)
	}
}

func decompress(data []byte, compression Compression, size int) ([]byte, error) {
	switch compression {
	case CompressionNone:
		if len(data) != size {
			return nil, fmt.Errorf("payload is %d bytes, header says %d", len(data), size)
		}
		return data, nil
	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(data, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, want %d", read, size)
		}
		return destination, nil
	case CompressionZstd:
		decoded, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(decoded) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, want %d", len(decoded), size)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", compression)
	}
}
