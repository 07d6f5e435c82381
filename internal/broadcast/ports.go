package broadcast

import "sync"

// portRefs tracks, per UDP port, the set of owner tags that have asked
// for it to be listened on. A port is released only once every owner has
// released it — the "user whitelist" ports carry a synthetic owner tag
// that survives game-profile churn, so they are never torn down by a
// profile deactivating.
type portRefs struct {
	mu    sync.Mutex
	ports map[int]map[string]struct{} // port -> set of owner tags
}

func newPortRefs() *portRefs {
	return &portRefs{ports: make(map[int]map[string]struct{})}
}

// addRef records that owner wants port listened on. Returns true if this
// is the first reference to port (the caller should bind a listener).
func (p *portRefs) addRef(port int, owner string) (first bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	owners, ok := p.ports[port]
	if !ok {
		owners = make(map[string]struct{})
		p.ports[port] = owners
		first = true
	}
	owners[owner] = struct{}{}
	return first
}

// release removes owner's reference to port. Returns true if that was the
// last reference (the caller should tear down the listener).
func (p *portRefs) release(port int, owner string) (last bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	owners, ok := p.ports[port]
	if !ok {
		return false
	}
	delete(owners, owner)
	if len(owners) == 0 {
		delete(p.ports, port)
		return true
	}
	return false
}

// releaseOwner removes every port reference held by owner, returning the
// ports whose last reference was just released.
func (p *portRefs) releaseOwner(owner string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var drained []int
	for port, owners := range p.ports {
		if _, ok := owners[owner]; !ok {
			continue
		}
		delete(owners, owner)
		if len(owners) == 0 {
			delete(p.ports, port)
			drained = append(drained, port)
		}
	}
	return drained
}

// activePorts returns the currently referenced ports.
func (p *portRefs) activePorts() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, 0, len(p.ports))
	for port := range p.ports {
		out = append(out, port)
	}
	return out
}
