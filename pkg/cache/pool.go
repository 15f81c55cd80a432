package cache

// PoolState is the numeric encoding of a pool's health as reported by the
// storage engine.
//
type PoolState int

const (
	PoolStateUnknown PoolState = iota
	PoolStateOnline
	PoolStateDegraded
	PoolStateFaulted
)

func (s PoolState) String() string {
	switch s {
	case PoolStateOnline:
		return "online"
	case PoolStateDegraded:
		return "degraded"
	case PoolStateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// PoolInfo is a single storage pool as last seen by the poller. Sizes are in
// bytes.
//
type PoolInfo struct {
	Name      string
	Capacity  uint64
	Used      uint64
	Committed uint64
	State     PoolState
}

// Pools is the ordered collection of pools kept in the cache.
//
type Pools struct {
	items []PoolInfo
}

// Items returns the pools in the order they were written.
//
func (p *Pools) Items() []PoolInfo {
	return p.items
}

// Len returns the number of pools.
//
func (p *Pools) Len() int {
	return len(p.items)
}

// Set replaces every pool in the collection. Pools are keyed by name: when
// `items` repeats a name, the last entry wins and keeps the position of the
// first one.
//
func (p *Pools) Set(items []PoolInfo) {
	p.items = make([]PoolInfo, 0, len(items))

	positions := make(map[string]int, len(items))
	for _, info := range items {
		if idx, found := positions[info.Name]; found {
			p.items[idx] = info
			continue
		}

		positions[info.Name] = len(p.items)
		p.items = append(p.items, info)
	}
}

// Upsert updates the pool with the same name in place, or appends it.
//
func (p *Pools) Upsert(info PoolInfo) {
	for idx := range p.items {
		if p.items[idx].Name == info.Name {
			p.items[idx] = info
			return
		}
	}

	p.items = append(p.items, info)
}

// Remove drops the pool with the given name, reporting whether it existed.
//
func (p *Pools) Remove(name string) bool {
	for idx := range p.items {
		if p.items[idx].Name == name {
			p.items = append(p.items[:idx], p.items[idx+1:]...)
			return true
		}
	}

	return false
}
