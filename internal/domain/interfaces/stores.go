package interfaces

// BlobStore keeps opaque values grouped under a namespace. Deleting the
// namespace removes every value stored in it.
type BlobStore interface {
	Get(namespace, key string) ([]byte, bool, error)
	Put(namespace, key string, value []byte) error
	// PutAll replaces several values of one namespace together. Readers never
	// see some of them updated and others not.
	PutAll(namespace string, values map[string][]byte) error
	DeleteNamespace(namespace string) error
	Close() error
}
