package agent

// Handles collects detach callbacks registered while an agent is being
// simulated (sight scheduler slot, in-flight path request, sync writer) so
// release tears everything down as a unit and leaks nothing.
type Handles struct {
	fns []func()
}

func (h *Handles) Add(fn func()) {
	if fn == nil {
		return
	}
	h.fns = append(h.fns, fn)
}

// Release runs the callbacks in reverse registration order and clears the
// set. Safe to call more than once.
func (h *Handles) Release() {
	for i := len(h.fns) - 1; i >= 0; i-- {
		h.fns[i]()
	}
	h.fns = nil
}

func (h *Handles) Len() int { return len(h.fns) }
