package cache

// ScopedKeyer wraps a Keyer with a prefix for namespace isolation.
// This is useful when several bot instances or environments share one
// Redis database.
//
// Example usage:
//
//	// Staging keys never collide with production keys
//	keyer := NewScopedKeyer(NewDefaultKeyer(), "staging:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// SketchKey generates a prefixed key for sketch caching.
func (k *ScopedKeyer) SketchKey(inputHash string, opts SketchKeyOpts) string {
	return k.prefix + k.inner.SketchKey(inputHash, opts)
}

// FileKey generates a prefixed key for remote-file caching.
func (k *ScopedKeyer) FileKey(fileID string, opts SketchKeyOpts) string {
	return k.prefix + k.inner.FileKey(fileID, opts)
}
