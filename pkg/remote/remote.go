// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package remote is a minimal client for the interface-only remote
// protocol (§6): a request carries (timestamp_seconds, direction), a
// response carries (timestamp_seconds, DataFrame) or NotFound. The
// server side, and every transport concern beyond framing (TLS,
// retries, load balancing), is the remote-transport collaborator's
// business and is explicitly not built here.
package remote

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/facebookincubator/below-sub000/pkg/store"
)

// Direction mirrors store.Direction on the wire.
type Direction int32

const (
	Forward Direction = iota
	Reverse
)

// GetRequest is the wire request: a timestamp and a read direction.
type GetRequest struct {
	TimestampSeconds int64
	Direction        Direction
}

// GetResponse is the wire response: either Found is true and Frame
// carries the matching sample, or Found is false (NotFound).
type GetResponse struct {
	TimestampSeconds int64
	Frame            *store.DataFrame
	Found            bool
}

const getMethod = "/below.Recorder/Get"

// Client is a thin wrapper over a grpc.ClientConn exposing the single
// Get RPC named in §6. Marshal/Unmarshal travel over the shared CBOR
// codec (see codec.go) rather than generated protobuf stubs, since this
// module has no .proto compilation step.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an already-dialed connection. Dialing (TLS, retry
// policy, keepalive) is the caller's concern.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Get fetches the sample at or adjacent to timestampSeconds in the
// given direction. A false return with a nil error means the server
// reported NotFound.
func (c *Client) Get(ctx context.Context, timestampSeconds int64, direction Direction) (*store.DataFrame, bool, error) {
	req := &GetRequest{TimestampSeconds: timestampSeconds, Direction: direction}
	resp := &GetResponse{}

	if err := c.conn.Invoke(ctx, getMethod, req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, false, fmt.Errorf("remote: Get: %w", err)
	}
	if !resp.Found {
		return nil, false, nil
	}
	return resp.Frame, true, nil
}
