// Package ports hands out backend listen ports for plugin deployments from a
// fixed range. Allocations are keyed by name (one per deployment slot), so
// re-allocating for a name that already holds a port returns the same port.
// Allocation state lives in memory; on restart the provisioner re-registers
// ports still held by running deployments before serving new requests.
package ports

import (
	"errors"
	"fmt"
	"sync"
)

// ErrRangeExhausted is returned when every port in the range is in use.
var ErrRangeExhausted = errors.New("ports: range exhausted")

// Allocator assigns ports from [rangeStart, rangeEnd] inclusive.
type Allocator struct {
	mu         sync.Mutex
	rangeStart int
	rangeEnd   int
	next       int
	byName     map[string]int
	holder     map[int]string
}

// NewAllocator creates an allocator over the inclusive range.
func NewAllocator(rangeStart, rangeEnd int) (*Allocator, error) {
	if rangeStart <= 0 || rangeEnd < rangeStart {
		return nil, fmt.Errorf("ports: invalid range %d-%d", rangeStart, rangeEnd)
	}
	return &Allocator{
		rangeStart: rangeStart,
		rangeEnd:   rangeEnd,
		next:       rangeStart,
		byName:     make(map[string]int),
		holder:     make(map[int]string),
	}, nil
}

// Allocate returns the port held under name, assigning the next free one on
// first use. The scan moves forward with wrap-around so recently released
// ports are not immediately reused.
func (a *Allocator) Allocate(name string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port, ok := a.byName[name]; ok {
		return port, nil
	}

	size := a.rangeEnd - a.rangeStart + 1
	for i := 0; i < size; i++ {
		candidate := a.next
		a.next++
		if a.next > a.rangeEnd {
			a.next = a.rangeStart
		}
		if _, taken := a.holder[candidate]; !taken {
			a.byName[name] = candidate
			a.holder[candidate] = name
			return candidate, nil
		}
	}
	return 0, ErrRangeExhausted
}

// Reserve binds a specific port to a name, for re-registering ports held by
// deployments that survived a restart. Reserving an out-of-range or already
// held port is an error.
func (a *Allocator) Reserve(name string, port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port < a.rangeStart || port > a.rangeEnd {
		return fmt.Errorf("ports: %d outside range %d-%d", port, a.rangeStart, a.rangeEnd)
	}
	if held, ok := a.holder[port]; ok {
		return fmt.Errorf("ports: %d already reserved by %s", port, held)
	}
	a.byName[name] = port
	a.holder[port] = name
	return nil
}

// Release returns name's port to the pool. Releasing a name that holds
// nothing is a no-op, so double release is safe.
func (a *Allocator) Release(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if port, ok := a.byName[name]; ok {
		delete(a.byName, name)
		delete(a.holder, port)
	}
}

// InUse reports how many ports are currently allocated.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.holder)
}
