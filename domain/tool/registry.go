package tool

// Registry stores tool descriptors. Implementations are in infrastructure.
// Reads may run concurrently; mutations are serialized.
type Registry interface {
	// Register adds a descriptor. It fails with ErrToolExists if the key
	// is taken.
	Register(d Descriptor) error

	// Replace registers d, overwriting any descriptor with the same key.
	Replace(d Descriptor) error

	// Get retrieves a descriptor by namespace and name.
	Get(namespace, name string) (Descriptor, bool)

	// List returns all descriptors ordered by key.
	List() []Descriptor

	// Has checks if a descriptor is registered.
	Has(namespace, name string) bool

	// Unregister removes a descriptor.
	Unregister(namespace, name string) error
}
