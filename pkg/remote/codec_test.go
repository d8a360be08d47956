// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facebookincubator/below-sub000/pkg/sample"
	"github.com/facebookincubator/below-sub000/pkg/store"
)

func TestCborCodecRoundTripsGetRequest(t *testing.T) {
	var codec cborCodec

	req := &GetRequest{TimestampSeconds: 1700000000, Direction: Reverse}
	raw, err := codec.Marshal(req)
	require.NoError(t, err)

	decoded := &GetRequest{}
	require.NoError(t, codec.Unmarshal(raw, decoded))
	assert.Equal(t, req.TimestampSeconds, decoded.TimestampSeconds)
	assert.Equal(t, req.Direction, decoded.Direction)
}

func TestCborCodecRoundTripsGetResponse(t *testing.T) {
	var codec cborCodec

	resp := &GetResponse{
		TimestampSeconds: 1700000005,
		Found:            true,
		Frame: &store.DataFrame{
			Sample: &sample.Sample{
				Timestamp: time.Unix(1700000005, 0).UTC(),
				System:    sample.System{Hostname: "remote-host"},
			},
		},
	}

	raw, err := codec.Marshal(resp)
	require.NoError(t, err)

	decoded := &GetResponse{}
	require.NoError(t, codec.Unmarshal(raw, decoded))
	require.True(t, decoded.Found)
	assert.Equal(t, resp.TimestampSeconds, decoded.TimestampSeconds)
	assert.Equal(t, "remote-host", decoded.Frame.Sample.System.Hostname)
}

func TestCborCodecNotFoundResponse(t *testing.T) {
	var codec cborCodec

	resp := &GetResponse{TimestampSeconds: 42, Found: false}
	raw, err := codec.Marshal(resp)
	require.NoError(t, err)

	decoded := &GetResponse{}
	require.NoError(t, codec.Unmarshal(raw, decoded))
	assert.False(t, decoded.Found)
	assert.Nil(t, decoded.Frame)
}

func TestCborCodecName(t *testing.T) {
	var codec cborCodec
	assert.Equal(t, "cbor", codec.Name())
}
