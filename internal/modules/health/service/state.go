package service

import (
	"sync/atomic"
	"time"
)

// State — атомарный срез живости скринера для health-эндпоинтов.
type State struct {
	ready     atomic.Bool
	startedAt time.Time

	wsConnected   atomic.Bool
	lastTickUnix  atomic.Int64 // unix seconds
	activeTraders atomic.Int64
	ticksSkipped  atomic.Int64
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetWSConnected(v bool) { s.wsConnected.Store(v) }
func (s *State) WSConnected() bool     { return s.wsConnected.Load() }

func (s *State) TouchTick(t time.Time) { s.lastTickUnix.Store(t.Unix()) }
func (s *State) LastTick() time.Time {
	u := s.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) SetActiveTraders(n int) { s.activeTraders.Store(int64(n)) }
func (s *State) ActiveTraders() int64   { return s.activeTraders.Load() }

// NoteTickSkipped — тик пропущен из-за перерасхода предыдущего.
func (s *State) NoteTickSkipped()    { s.ticksSkipped.Add(1) }
func (s *State) TicksSkipped() int64 { return s.ticksSkipped.Load() }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
