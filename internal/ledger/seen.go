package ledger

// DefaultSeenCapacity bounds the set of processed inbound event IDs.
const DefaultSeenCapacity = 10000

// Seen is a bounded set of event IDs kept in insertion order. When it grows
// past its capacity the oldest half is dropped.
// Not safe for concurrent use; the ledger guards it with its own mutex.
type Seen struct {
	capacity int
	ids      map[string]struct{}
	order    []string
}

// NewSeen crea un set con la capacidad dada (DefaultSeenCapacity si ≤ 0).
func NewSeen(capacity int) *Seen {
	if capacity <= 0 {
		capacity = DefaultSeenCapacity
	}
	return &Seen{
		capacity: capacity,
		ids:      make(map[string]struct{}, capacity),
	}
}

// Add records id and returns true if it was not present.
func (s *Seen) Add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.capacity {
		s.trim()
	}
	return true
}

// Contains reports whether id was recorded and not yet trimmed.
func (s *Seen) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Len devuelve el número de IDs retenidos.
func (s *Seen) Len() int {
	return len(s.order)
}

// trim keeps the newest capacity/2 IDs.
func (s *Seen) trim() {
	keep := s.capacity / 2
	drop := len(s.order) - keep
	for _, id := range s.order[:drop] {
		delete(s.ids, id)
	}
	s.order = append([]string(nil), s.order[drop:]...)
}

// IDs returns the retained IDs, oldest first.
func (s *Seen) IDs() []string {
	return append([]string(nil), s.order...)
}
