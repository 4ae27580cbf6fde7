package detection

import "sync"

// Gate suppresses immediate repeats of the last accepted payload. It keeps a
// single slot: A, B, A accepts all three, A, A accepts only the first.
type Gate struct {
	mu               sync.Mutex
	lastAcceptedText string
}

// NewGate returns an empty gate
func NewGate() *Gate {
	return &Gate{}
}

// Accept reports whether d should proceed to delivery and records it as the
// last accepted payload when it does.
func (g *Gate) Accept(d Detection) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if d.Text == "" || d.Text == g.lastAcceptedText {
		return false
	}
	g.lastAcceptedText = d.Text
	return true
}

// Last returns the last accepted payload
func (g *Gate) Last() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastAcceptedText
}
