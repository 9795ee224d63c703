package persistence

// Persistence bundles the store interfaces so the engine and the HTTP layer
// can depend on a single abstraction.
type Persistence struct {
	Partitions PartitionStore
	Flows      FlowStore
}

// InMemory returns a Persistence backed by one InMemoryStore.
func InMemory() Persistence {
	mem := NewInMemoryStore()
	return Persistence{
		Partitions: mem,
		Flows:      mem,
	}
}
