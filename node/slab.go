package node

// Token identifies one entry in the connection table and doubles as the
// epoll payload, so a readiness notification maps straight back to its
// connection.
type Token int

// TokenServer is the listening socket's fixed token. The table never hands
// it out.
const TokenServer Token = 0

// tokenWake marks readiness on the event loop's wake fd. It lives outside
// the table.
const tokenWake Token = -1

// Slab is a fixed-capacity store indexed by Token. Entries start at a
// caller-chosen first token, leaving the slots below it to fixed tokens
// like TokenServer. Freed tokens are reused, lowest first.
type Slab[T any] struct {
	start   Token
	entries []*T
	count   int
}

// NewSlab returns a slab handing out tokens [start, start+capacity).
func NewSlab[T any](start Token, capacity int) *Slab[T] {
	return &Slab[T]{
		start:   start,
		entries: make([]*T, capacity),
	}
}

// Insert allocates the lowest free token, builds the value with factory
// and stores it. Returns ErrTableFull when every slot is taken; existing
// entries are left untouched.
func (s *Slab[T]) Insert(factory func(Token) *T) (Token, error) {
	for i, e := range s.entries {
		if e == nil {
			tok := s.start + Token(i)
			s.entries[i] = factory(tok)
			s.count++
			return tok, nil
		}
	}
	return 0, ErrTableFull
}

// Get looks up the value stored under tok.
func (s *Slab[T]) Get(tok Token) (*T, bool) {
	i := int(tok - s.start)
	if i < 0 || i >= len(s.entries) || s.entries[i] == nil {
		return nil, false
	}
	return s.entries[i], true
}

// Remove frees tok's slot and returns what was stored there. ok is false
// when the token does not map to a live entry.
func (s *Slab[T]) Remove(tok Token) (*T, bool) {
	i := int(tok - s.start)
	if i < 0 || i >= len(s.entries) || s.entries[i] == nil {
		return nil, false
	}
	e := s.entries[i]
	s.entries[i] = nil
	s.count--
	return e, true
}

// Count reports the number of live entries.
func (s *Slab[T]) Count() int { return s.count }

// Cap reports the table capacity.
func (s *Slab[T]) Cap() int { return len(s.entries) }

// Range calls f for every live entry in token order until f returns false.
func (s *Slab[T]) Range(f func(Token, *T) bool) {
	for i, e := range s.entries {
		if e == nil {
			continue
		}
		if !f(s.start+Token(i), e) {
			return
		}
	}
}
