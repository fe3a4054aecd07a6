package usrnet

import "sync"

// Bindings tracks the set of transport addresses currently bound by sockets,
// so two sockets never claim the same (transport, addr, port) tuple. Unlike
// a borrow-checked lease, Go has no scope-exit destructor: callers must call
// Lease.Release explicitly when a socket (or its last FSM child) goes away.
type Bindings struct {
	mu   sync.Mutex
	held map[bindingKey]*Lease
}

type bindingKey struct {
	transport Transport
	addr      SocketAddr
}

// NewBindings constructs an empty binding set.
func NewBindings() *Bindings {
	return &Bindings{held: make(map[bindingKey]*Lease)}
}

// Bind reserves addr for transport, returning a Lease with an initial
// reference count of one. Returns a BindingInUseError if the tuple is
// already held.
func (b *Bindings) Bind(transport Transport, addr SocketAddr) (*Lease, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := bindingKey{transport, addr}
	if _, ok := b.held[key]; ok {
		return nil, &BindingInUseError{Transport: transport, Addr: addr}
	}
	l := &Lease{owner: b, key: key, refs: 1}
	b.held[key] = l
	return l, nil
}

func (b *Bindings) release(key bindingKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.held, key)
}

// Lease represents a held claim on a (transport, address) tuple. A TCP
// listener's accepted connections share their parent's Lease via Acquire, so
// the binding is only released once every referencing socket has released
// it.
type Lease struct {
	owner *Bindings
	key   bindingKey
	mu    sync.Mutex
	refs  int
}

// Addr returns the bound address.
func (l *Lease) Addr() SocketAddr { return l.key.addr }

// Transport returns the bound transport.
func (l *Lease) Transport() Transport { return l.key.transport }

// Acquire increments the lease's reference count and returns it, for a child
// socket (e.g. a TCP connection accepted from a listener) that shares its
// parent's binding.
func (l *Lease) Acquire() *Lease {
	l.mu.Lock()
	l.refs++
	l.mu.Unlock()
	return l
}

// Release decrements the lease's reference count, freeing the underlying
// binding once it reaches zero. Calling Release more times than the lease
// was acquired is a programming error and panics.
func (l *Lease) Release() {
	l.mu.Lock()
	l.refs--
	refs := l.refs
	l.mu.Unlock()
	if refs < 0 {
		panic("usrnet: Lease released more times than acquired")
	}
	if refs == 0 {
		l.owner.release(l.key)
	}
}
