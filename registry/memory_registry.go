package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry keeps instances in process. TTLs are ignored. It serves
// single-process setups and tests.
type MemoryRegistry struct {
	mu        sync.Mutex
	instances map[string]Instance
	watchers  []chan []Instance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{instances: make(map[string]Instance)}
}

func (r *MemoryRegistry) Register(ctx context.Context, instance Instance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[instance.BoxID] = instance
	r.notifyLocked()
	return nil
}

func (r *MemoryRegistry) Deregister(ctx context.Context, boxID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[boxID]; !ok {
		return ErrNotFound
	}
	delete(r.instances, boxID)
	r.notifyLocked()
	return nil
}

func (r *MemoryRegistry) Discover(ctx context.Context) ([]Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(), nil
}

func (r *MemoryRegistry) Watch(ctx context.Context) <-chan []Instance {
	ch := make(chan []Instance, 1)
	r.mu.Lock()
	r.watchers = append(r.watchers, ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, w := range r.watchers {
			if w == ch {
				r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
				close(ch)
				return
			}
		}
	}()
	return ch
}

func (r *MemoryRegistry) listLocked() []Instance {
	list := make([]Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		list = append(list, inst)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].BoxID < list[j].BoxID })
	return list
}

// notifyLocked replaces any undelivered update with the latest list.
func (r *MemoryRegistry) notifyLocked() {
	list := r.listLocked()
	for _, w := range r.watchers {
		select {
		case <-w:
		default:
		}
		w <- list
	}
}
