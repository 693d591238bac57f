// Package registry announces running boxes so that development tools can
// find them.
//
// The etcd implementation keeps one key per box:
//
//	Key:   /anemobox/{BoxID}
//	Value: JSON-encoded Instance
//
// Registration uses a TTL lease: if the box dies the lease expires and the
// entry disappears on its own.
package registry

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/anemobox/"

type lease struct {
	id     clientv3.LeaseID
	cancel context.CancelFunc
}

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines

	mu     sync.Mutex
	leases map[string]lease
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c, leases: make(map[string]lease)}, nil
}

// Register stores the instance under a lease of ttl seconds and keeps the
// lease alive until Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, instance Instance, ttl int64) error {
	grant, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}
	if _, err = r.client.Put(ctx, keyPrefix+instance.BoxID, string(val), clientv3.WithLease(grant.ID)); err != nil {
		return err
	}

	// The keepalive must outlive ctx, which usually belongs to startup.
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, grant.ID)
	if err != nil {
		cancel()
		return err
	}
	go func() {
		for range ch {
		}
		logrus.WithField("box", instance.BoxID).Debug("registry: keepalive stopped")
	}()

	r.mu.Lock()
	if old, ok := r.leases[instance.BoxID]; ok {
		old.cancel()
	}
	r.leases[instance.BoxID] = lease{id: grant.ID, cancel: cancel}
	r.mu.Unlock()
	return nil
}

// Deregister removes the box and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, boxID string) error {
	r.mu.Lock()
	l, ok := r.leases[boxID]
	delete(r.leases, boxID)
	r.mu.Unlock()

	if _, err := r.client.Delete(ctx, keyPrefix+boxID); err != nil {
		return err
	}
	if ok {
		l.cancel()
		if _, err := r.client.Revoke(ctx, l.id); err != nil {
			return err
		}
	}
	return nil
}

// Discover returns all registered boxes.
func (r *EtcdRegistry) Discover(ctx context.Context) ([]Instance, error) {
	resp, err := r.client.Get(ctx, keyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			logrus.WithField("key", string(kv.Key)).Warn("registry: skipping malformed entry")
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch emits the full list of boxes whenever it changes, until ctx ends.
func (r *EtcdRegistry) Watch(ctx context.Context) <-chan []Instance {
	ch := make(chan []Instance, 1)

	go func() {
		defer close(ch)
		for range r.client.Watch(ctx, keyPrefix, clientv3.WithPrefix()) {
			// Re-fetch the whole list rather than applying events one by one.
			instances, err := r.Discover(ctx)
			if err != nil {
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close stops all keepalives and the etcd client.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for _, l := range r.leases {
		l.cancel()
	}
	r.leases = make(map[string]lease)
	r.mu.Unlock()
	return r.client.Close()
}
