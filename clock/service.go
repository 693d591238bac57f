package clock

import (
	"errors"
	"time"
)

// NowArgs is empty; clock_now takes no arguments.
type NowArgs struct{}

type NowReply struct {
	Time      int64 `json:"time"` // milliseconds since the Unix epoch
	Corrected bool  `json:"corrected"`
}

type SampleArgs struct {
	Time int64 `json:"time"` // external reference, milliseconds since the Unix epoch
}

type SampleReply struct {
	Accepted bool `json:"accepted"`
}

// Service exposes the clock over RPC. The phone is an external time
// reference: every clock_sample call pairs its reading with the local clock.
type Service struct {
	clock   *Clock
	sampler Sampler
}

// NewService creates the RPC surface for c; samples are fed to sampler.
func NewService(c *Clock, sampler Sampler) *Service {
	return &Service{clock: c, sampler: sampler}
}

// Now returns the corrected current time.
func (s *Service) Now(args *NowArgs, reply *NowReply) error {
	local := s.clock.Local()
	now := local
	if s.clock.est != nil {
		now = s.clock.est.Estimate(local)
	}
	reply.Time = now.UnixMilli()
	reply.Corrected = !now.Equal(local)
	return nil
}

// Sample records the caller's notion of current time.
func (s *Service) Sample(args *SampleArgs, reply *SampleReply) error {
	if args.Time <= 0 {
		return errors.New("clock: sample time must be positive milliseconds since epoch")
	}
	reply.Accepted = s.sampler.AddSample(s.clock.Local(), time.UnixMilli(args.Time).UTC())
	return nil
}
