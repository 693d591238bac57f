package peripheral

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/lithammer/shortuuid/v4"
	"github.com/sirupsen/logrus"

	"anemobox/transport"
)

var upgrader = websocket.Upgrader{
	// Any origin: the peripheral is a development stand-in for the radio.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server accepts one central at a time, like a GATT server exposing a single
// characteristic. The "mtu" query parameter plays the part of MTU
// negotiation.
type Server struct {
	ch         *transport.Channel
	defaultMTU int

	mu     sync.Mutex
	busy   bool // a central holds the slot, possibly still upgrading
	active *link
}

func NewServer(ch *transport.Channel, defaultMTU int) *Server {
	return &Server{ch: ch, defaultMTU: clampMTU(defaultMTU)}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mtu := s.defaultMTU
	if v := r.URL.Query().Get("mtu"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "bad mtu", http.StatusBadRequest)
			return
		}
		mtu = clampMTU(n)
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		http.Error(w, "a central is already subscribed", http.StatusConflict)
		return
	}
	s.busy = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.busy, s.active = false, nil
		s.mu.Unlock()
	}()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("peripheral: websocket upgrade failed")
		return
	}

	session := shortuuid.New()
	l := newLink(conn, s.ch, session)
	s.mu.Lock()
	s.active = l
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{"session": session, "remote": r.RemoteAddr, "mtu": mtu}).Info("peripheral: central connected")
	s.ch.OnSubscribe(mtu, l)
	l.readLoop()
	l.close()
	logrus.WithField("session", session).Info("peripheral: central disconnected")
}

// Subscribed reports whether a central is connected.
func (s *Server) Subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Disconnect drops the current central, if any.
func (s *Server) Disconnect() {
	s.mu.Lock()
	l := s.active
	s.mu.Unlock()
	if l != nil {
		l.close()
	}
}
