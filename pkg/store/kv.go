package store

// KV is a synchronous string-keyed persistence area scoped to one client.
// Keys returns every key currently present, in no particular order.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key string, value string) error
	Remove(key string) error
	Keys() ([]string, error)
	Close() error
}
