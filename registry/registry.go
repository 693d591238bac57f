package registry

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("registry: box not found")

// Instance describes one running box: where its peripheral listens and which
// RPC functions it serves.
type Instance struct {
	BoxID     string   `json:"boxId"`
	Addr      string   `json:"addr"`
	Version   string   `json:"version"`
	Functions []string `json:"functions"`
}

type Registry interface {
	Register(ctx context.Context, instance Instance, ttl int64) error
	Deregister(ctx context.Context, boxID string) error
	Discover(ctx context.Context) ([]Instance, error)
	Watch(ctx context.Context) <-chan []Instance
}
