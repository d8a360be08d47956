// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package remote

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

const codecName = "cbor"

// cborCodec implements google.golang.org/grpc/encoding.Codec over the
// same CBOR library pkg/store uses for its portable wire format, so a
// GetResponse's embedded store.DataFrame needs no second serialization
// scheme. Registered globally via encoding.RegisterCodec in init, the
// way every grpc codec implementation in the ecosystem wires itself in.
type cborCodec struct{}

func (cborCodec) Marshal(v any) ([]byte, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("remote: cbor marshal: %w", err)
	}
	return b, nil
}

func (cborCodec) Unmarshal(data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("remote: cbor unmarshal: %w", err)
	}
	return nil
}

func (cborCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(cborCodec{})
}
