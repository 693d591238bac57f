// Package peripheral carries a transport.Channel over a websocket, standing
// in for the BLE GATT characteristic during development. Each websocket
// binary message is one characteristic write (central to box) or one
// notification (box to central).
package peripheral

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"anemobox/transport"
)

var (
	ErrNotSubscribed = errors.New("peripheral: no subscribed central")
	ErrBusy          = errors.New("peripheral: notification already outstanding")
)

const (
	MinMTU = 20
	MaxMTU = 512
)

func clampMTU(mtu int) int {
	return min(max(mtu, MinMTU), MaxMTU)
}

// link pumps one websocket connection into a channel. It is the channel's
// Notifier for the lifetime of the connection.
type link struct {
	conn    *websocket.Conn
	ch      *transport.Channel
	session string

	chunks chan []byte
	quit   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func newLink(conn *websocket.Conn, ch *transport.Channel, session string) *link {
	l := &link{
		conn:    conn,
		ch:      ch,
		session: session,
		chunks:  make(chan []byte, 1),
		quit:    make(chan struct{}),
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l
}

// Notify queues chunk for the writer. The channel never has more than one
// chunk outstanding, so a full queue is a caller bug.
func (l *link) Notify(chunk []byte) error {
	select {
	case <-l.quit:
		return ErrNotSubscribed
	default:
	}
	select {
	case l.chunks <- append([]byte(nil), chunk...):
		return nil
	default:
		return ErrBusy
	}
}

func (l *link) writeLoop() {
	defer l.wg.Done()
	for {
		select {
		case chunk := <-l.chunks:
			if err := l.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				logrus.WithField("session", l.session).WithError(err).Debug("peripheral: write failed")
				return
			}
			select {
			case <-l.quit:
				return
			default:
			}
			l.ch.OnNotifyConsumed()
		case <-l.quit:
			return
		}
	}
}

// readLoop feeds incoming writes to the channel until the connection fails.
func (l *link) readLoop() {
	for {
		kind, data, err := l.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logrus.WithField("session", l.session).WithError(err).Debug("peripheral: read ended")
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		l.ch.OnWriteReceived(data)
	}
}

// close tears the connection down and unsubscribes the channel. Safe to
// call more than once.
func (l *link) close() {
	l.once.Do(func() {
		close(l.quit)
		l.conn.Close()
		l.wg.Wait()
		l.ch.OnUnsubscribe()
	})
}
