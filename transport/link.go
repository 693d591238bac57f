package transport

import (
	"bytes"
	"errors"
	"sync"
)

var ErrLinkDown = errors.New("transport: link down")

// Link connects two Channels back to back, standing in for a radio. Each
// direction delivers chunks on its own goroutine and acknowledges them after
// the receiving channel processed them.
type Link struct {
	mtu  int
	a, b *Channel

	mu    sync.Mutex
	pipes []*pipe
}

func NewLink(a, b *Channel, mtu int) *Link {
	return &Link{a: a, b: b, mtu: mtu}
}

// Connect subscribes each side to the other.
func (l *Link) Connect() {
	l.mu.Lock()
	ab := newPipe(l.a, l.b)
	ba := newPipe(l.b, l.a)
	l.pipes = []*pipe{ab, ba}
	l.mu.Unlock()

	l.a.OnSubscribe(l.mtu, ab)
	l.b.OnSubscribe(l.mtu, ba)
}

// Disconnect tears both directions down. Chunks not yet delivered are lost;
// the channels resend interrupted messages on the next Connect.
func (l *Link) Disconnect() {
	l.mu.Lock()
	pipes := l.pipes
	l.pipes = nil
	l.mu.Unlock()

	for _, p := range pipes {
		p.stop()
	}
	l.a.OnUnsubscribe()
	l.b.OnUnsubscribe()
}

// SetMTU renegotiates the MTU on both sides.
func (l *Link) SetMTU(mtu int) {
	l.a.OnMTUChange(mtu)
	l.b.OnMTUChange(mtu)
}

type pipe struct {
	from, to *Channel
	chunks   chan []byte
	quit     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func newPipe(from, to *Channel) *pipe {
	p := &pipe{
		from:   from,
		to:     to,
		chunks: make(chan []byte, 1),
		quit:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *pipe) Notify(chunk []byte) error {
	select {
	case <-p.quit:
		return ErrLinkDown
	default:
	}
	select {
	case p.chunks <- bytes.Clone(chunk):
		return nil
	case <-p.quit:
		return ErrLinkDown
	}
}

func (p *pipe) run() {
	defer p.wg.Done()
	for {
		select {
		case chunk := <-p.chunks:
			p.to.OnWriteReceived(chunk)
			p.from.OnNotifyConsumed()
		case <-p.quit:
			return
		}
	}
}

func (p *pipe) stop() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}

// Recorder is a Notifier that keeps every chunk it is given. Nothing is
// acknowledged automatically; tests call Channel.OnNotifyConsumed themselves.
type Recorder struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
}

func (r *Recorder) Notify(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.chunks = append(r.chunks, bytes.Clone(chunk))
	return nil
}

// Fail makes subsequent Notify calls return err.
func (r *Recorder) Fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Chunks returns a copy of the recorded chunks.
func (r *Recorder) Chunks() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.chunks...)
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}
