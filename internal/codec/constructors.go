package codec

import (
	"io"
	"sync"
)

// Constructor builds a custom representation from a decoded byte or
// character stream.
type Constructor func(r io.Reader) (any, error)

// Constructors maps flavor class names to constructors. A stream or reader
// flavor whose class has a constructor yields the constructor's value instead
// of the bare stream.
type Constructors struct {
	mu sync.RWMutex
	m  map[string]Constructor
}

func NewConstructors() *Constructors {
	return &Constructors{m: make(map[string]Constructor)}
}

func (cs *Constructors) Register(class string, fn Constructor) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.m[class] = fn
}

func (cs *Constructors) Lookup(class string) (Constructor, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	fn, ok := cs.m[class]
	return fn, ok
}
