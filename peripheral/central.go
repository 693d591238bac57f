package peripheral

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/lithammer/shortuuid/v4"

	"anemobox/transport"
)

// Central is the phone side: it dials a Server and drives a local channel
// with what the box notifies.
type Central struct {
	l    *link
	done chan struct{}
}

// Dial connects to the peripheral at rawURL (ws://host/path) asking for mtu.
func Dial(ctx context.Context, rawURL string, ch *transport.Channel, mtu int) (*Central, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("peripheral: %w", err)
	}
	mtu = clampMTU(mtu)
	q := u.Query()
	q.Set("mtu", strconv.Itoa(mtu))
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("peripheral: dial %s: %w", rawURL, err)
	}

	c := &Central{l: newLink(conn, ch, shortuuid.New()), done: make(chan struct{})}
	ch.OnSubscribe(mtu, c.l)
	go func() {
		defer close(c.done)
		c.l.readLoop()
		c.l.close()
	}()
	return c, nil
}

// Done is closed once the connection is gone.
func (c *Central) Done() <-chan struct{} {
	return c.done
}

// Close disconnects and waits for the read loop to stop.
func (c *Central) Close() {
	c.l.close()
	<-c.done
}
