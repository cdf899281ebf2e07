// Package peer tracks what is connected on each worker slot, for status
// reporting only. Protocol state lives in the coordinator.
package peer

import (
	"sort"
	"sync"
	"time"
)

type Peer struct {
	Slot      int       `json:"slot"`
	Addr      string    `json:"addr"`
	Name      string    `json:"name"`
	Transport string    `json:"transport"`
	Since     time.Time `json:"since"`
	Replies   uint64    `json:"replies"`
	OutOfSync uint64    `json:"out_of_sync"`
	Resends   uint64    `json:"resends"`
	LastID    int       `json:"last_id"`
	InSync    bool      `json:"in_sync"`
}

type Registry struct {
	mu    sync.Mutex
	slots map[int]*Peer
}

func NewRegistry() *Registry {
	return &Registry{slots: make(map[int]*Peer)}
}

// Connect records a peer that passed the handshake on slot.
func (r *Registry) Connect(slot int, addr, name, transport string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[slot] = &Peer{
		Slot:      slot,
		Addr:      addr,
		Name:      name,
		Transport: transport,
		Since:     time.Now().UTC(),
		LastID:    -1,
	}
}

func (r *Registry) Disconnect(slot int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, slot)
}

// Reply records an answer from the peer on slot.
func (r *Registry) Reply(slot, id int, inSync bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.slots[slot]
	if !ok {
		return
	}
	p.Replies++
	p.LastID = id
	p.InSync = inSync
	if !inSync {
		p.OutOfSync++
	}
}

func (r *Registry) Resend(slot int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.slots[slot]; ok {
		p.Resends++
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// List returns the connected peers ordered by slot.
func (r *Registry) List() []Peer {
	r.mu.Lock()
	out := make([]Peer, 0, len(r.slots))
	for _, p := range r.slots {
		out = append(out, *p)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}
