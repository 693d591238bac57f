package endpoint

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// LocalName is the name of the endpoint that belongs to box boxID.
func LocalName(boxID string) string {
	return "box" + strings.TrimSpace(boxID)
}

type NameArgs struct {
	Name string `json:"name"`
}

type NameReply struct {
	Name string `json:"name"`
}

type SendArgs struct {
	Name  string `json:"name"`
	Dst   string `json:"dst"`
	Label int    `json:"label"`
	Data  []byte `json:"data"`
}

type SendReply struct {
	Seq int64 `json:"seqNumber"`
}

type DeliverArgs struct {
	Name   string `json:"name"`
	Packet Packet `json:"packet"`
}

type PacketsArgs struct {
	Name  string `json:"name"`
	Src   string `json:"src"`
	Dst   string `json:"dst"`
	Lower int64  `json:"lower"`
	Limit int    `json:"limit"`
}

type PacketsReply struct {
	Packets []Packet `json:"packets"`
}

type BoundsArgs struct {
	Name string `json:"name"`
	Src  string `json:"src"`
	Dst  string `json:"dst"`
}

type UpdateLowerBoundArgs struct {
	Name  string `json:"name"`
	Src   string `json:"src"`
	Dst   string `json:"dst"`
	Lower int64  `json:"lower"`
}

type Empty struct{}

// Service exposes the local endpoint to the phone. Registered with prefix
// "ep_" its methods become ep_name, ep_send, ep_deliver and so on. Every call
// except ep_name must name the local endpoint.
type Service struct {
	local   string
	manager *Manager
}

func NewService(local string, m *Manager) *Service {
	return &Service{local: local, manager: m}
}

// Name tells the phone which endpoint lives on this box.
func (s *Service) Name(args *Empty, reply *NameReply) error {
	reply.Name = s.local
	return nil
}

func (s *Service) Send(ctx context.Context, args *SendArgs, reply *SendReply) error {
	return s.with(ctx, args.Name, "send", func(ep Endpoint) (err error) {
		reply.Seq, err = ep.Send(ctx, args.Dst, args.Label, args.Data)
		return err
	})
}

func (s *Service) Deliver(ctx context.Context, args *DeliverArgs, reply *Empty) error {
	return s.with(ctx, args.Name, "deliver", func(ep Endpoint) error {
		return ep.Deliver(ctx, args.Packet)
	})
}

func (s *Service) Packets(ctx context.Context, args *PacketsArgs, reply *PacketsReply) error {
	return s.with(ctx, args.Name, "packets", func(ep Endpoint) (err error) {
		reply.Packets, err = ep.Packets(ctx, args.Src, args.Dst, args.Lower, args.Limit)
		return err
	})
}

func (s *Service) Bounds(ctx context.Context, args *BoundsArgs, reply *Bounds) error {
	return s.with(ctx, args.Name, "bounds", func(ep Endpoint) (err error) {
		*reply, err = ep.Bounds(ctx, args.Src, args.Dst)
		return err
	})
}

func (s *Service) UpdateLowerBound(ctx context.Context, args *UpdateLowerBoundArgs, reply *Empty) error {
	return s.with(ctx, args.Name, "updateLowerBound", func(ep Endpoint) error {
		return ep.UpdateLowerBound(ctx, args.Src, args.Dst, args.Lower)
	})
}

func (s *Service) Reset(ctx context.Context, args *NameArgs, reply *Empty) error {
	return s.with(ctx, args.Name, "reset", func(ep Endpoint) error {
		return ep.Reset(ctx)
	})
}

// with validates the endpoint name and runs fn on the opened endpoint.
// Storage errors are logged in full and reported to the phone in short.
func (s *Service) with(ctx context.Context, name, method string, fn func(Endpoint) error) error {
	if name == "" {
		return fmt.Errorf("you must pass an endpoint name")
	}
	if strings.TrimSpace(name) != s.local {
		return fmt.Errorf("The local endpoint is named %q but you are attempting to access %q", s.local, name)
	}
	if err := s.manager.With(ctx, name, fn); err != nil {
		logrus.WithFields(logrus.Fields{"endpoint": name, "method": method}).WithError(err).
			Error("endpoint: rpc failed")
		return fmt.Errorf("Error accessing endpoint with name %s and method %s: %v", name, method, err)
	}
	return nil
}
