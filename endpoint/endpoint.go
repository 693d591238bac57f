// Package endpoint stores and forwards packets between the box and the
// cloud. The phone relays packets in both directions over RPC; the box keeps
// them in a local mailbox until the far end confirms receipt by raising the
// lower bound.
package endpoint

import (
	"bytes"
	"context"
	"errors"
)

var (
	ErrClosed   = errors.New("endpoint: closed")
	ErrConflict = errors.New("endpoint: a different packet has already been delivered")
)

// Packet is one message in the mailbox. Seq numbers are per (Src, Dst) pair
// and increase by one.
type Packet struct {
	Src   string `json:"src"`
	Dst   string `json:"dst"`
	Seq   int64  `json:"seqNumber"`
	Label int    `json:"label"`
	Data  []byte `json:"data"`
}

func (p Packet) Equal(q Packet) bool {
	return p.Src == q.Src && p.Dst == q.Dst && p.Seq == q.Seq &&
		p.Label == q.Label && bytes.Equal(p.Data, q.Data)
}

// Bounds is the half-open range [Lower, Upper) of seq numbers held for a
// (src, dst) pair.
type Bounds struct {
	Lower int64 `json:"lower"`
	Upper int64 `json:"upper"`
}

// Endpoint is a named mailbox.
type Endpoint interface {
	Name() string
	Open(ctx context.Context) error
	Close() error

	// Send stores a new packet from this endpoint to dst and returns its seq.
	Send(ctx context.Context, dst string, label int, data []byte) (int64, error)
	// Deliver accepts a packet relayed from elsewhere. Packets addressed to
	// this endpoint go to its handlers; others are stored for forwarding.
	Deliver(ctx context.Context, p Packet) error
	// Packets lists stored packets from src to dst with seq >= lower.
	Packets(ctx context.Context, src, dst string, lower int64, limit int) ([]Packet, error)
	Bounds(ctx context.Context, src, dst string) (Bounds, error)
	// UpdateLowerBound drops packets below lower; the far end has them.
	UpdateLowerBound(ctx context.Context, src, dst string, lower int64) error
	Reset(ctx context.Context) error
}

// PacketHandler consumes packets addressed to the local endpoint.
type PacketHandler func(p Packet) error
