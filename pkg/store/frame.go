// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

import (
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/facebookincubator/below-sub000/pkg/sample"
)

// WireFormat selects the per-entry frame serialization (§6).
type WireFormat int

const (
	// FormatCBOR is the portable wire format.
	FormatCBOR WireFormat = iota
	// FormatLegacy is the compact, schema-bound binary framing.
	FormatLegacy
)

// CompressionMode selects whether a frame is zstd-compressed.
type CompressionMode int

const (
	CompressionNone CompressionMode = iota
	CompressionZstd
)

// DataFrame wraps one Sample (§3.3): the unit of persistence.
type DataFrame struct {
	Sample *sample.Sample
}

// encodeFrame serializes and optionally compresses f per (format, comp),
// returning the bytes to write to the data file and the flag bits that
// record how to reverse the process.
func encodeFrame(f *DataFrame, format WireFormat, comp CompressionMode) ([]byte, uint32, error) {
	var payload []byte
	var err error
	var flags uint32

	switch format {
	case FormatCBOR:
		payload, err = cborMode().Marshal(f.Sample)
		flags |= flagCBOR
	case FormatLegacy:
		payload, err = encodeLegacySample(f.Sample)
	default:
		return nil, 0, fmt.Errorf("store: unknown wire format %d", format)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("store: encode frame: %w", err)
	}

	if comp == CompressionZstd {
		payload = zstdEncode(payload)
		flags |= flagCompressed
	}

	return payload, flags, nil
}

// decodeFrame reverses encodeFrame given the flags recorded in the index
// entry. Decompression and deserialization failures are both reported the
// same way to the caller (cursor.go logs them identically per §4.4).
func decodeFrame(raw []byte, flags uint32) (*DataFrame, error) {
	payload := raw
	if flags&flagCompressed != 0 {
		decoded, err := zstdDecode(payload)
		if err != nil {
			return nil, fmt.Errorf("store: zstd decode: %w", err)
		}
		payload = decoded
	}

	s := &sample.Sample{}
	var err error
	if flags&flagCBOR != 0 {
		err = cbor.Unmarshal(payload, s)
	} else {
		s, err = decodeLegacySample(payload)
	}
	if err != nil {
		return nil, fmt.Errorf("store: decode frame: %w", err)
	}

	return &DataFrame{Sample: s}, nil
}

var cborModeOnce sync.Once
var cborModeInst cbor.Mode

// cborMode returns a shared CBOR encode mode configured for
// deterministic, canonical output — not required for correctness here
// (every entry is self-describing via its own length prefix) but it
// keeps repeated encodes of an unchanged Sample byte-identical. Decoding
// uses cbor.Unmarshal directly.
func cborMode() cbor.Mode {
	cborModeOnce.Do(func() {
		opts := cbor.CanonicalEncOptions()
		mode, err := opts.EncMode()
		if err != nil {
			panic(err)
		}
		cborModeInst = mode
	})
	return cborModeInst
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdOnce    sync.Once
)

func initZstd() {
	zstdOnce.Do(func() {
		zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		zstdDecoder, _ = zstd.NewReader(nil)
	})
}

func zstdEncode(b []byte) []byte {
	initZstd()
	return zstdEncoder.EncodeAll(b, make([]byte, 0, len(b)))
}

func zstdDecode(b []byte) ([]byte, error) {
	initZstd()
	return zstdDecoder.DecodeAll(b, nil)
}
