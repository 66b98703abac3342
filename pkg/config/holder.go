package config

import "sync/atomic"

// Holder publishes the current snapshot. Readers call Current once per
// request and use that snapshot throughout.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

func NewHolder(s *Snapshot) *Holder {
	h := &Holder{}
	h.current.Store(s)
	return h
}

func (h *Holder) Current() *Snapshot { return h.current.Load() }

func (h *Holder) Replace(s *Snapshot) { h.current.Store(s) }
