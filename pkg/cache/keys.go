package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Key types reported to observability hooks.
const (
	KeyTypeSketch = "sketch"
	KeyTypeFile   = "file"
)

// SketchKeyOpts holds every option that affects the encoded sketch.
type SketchKeyOpts struct {
	Format       string `json:"format"`
	Quality      int    `json:"quality"`
	MaxDimension int    `json:"max_dimension"`
	Revision     string `json:"revision"`
}

// Keyer generates cache keys.
type Keyer interface {
	// SketchKey returns the key for a sketch of the input with the given hash.
	SketchKey(inputHash string, opts SketchKeyOpts) string

	// FileKey returns the key for a sketch of a remote file identified by
	// a stable file ID (e.g. Telegram's file_unique_id).
	FileKey(fileID string, opts SketchKeyOpts) string
}

// DefaultKeyer produces unscoped keys.
type DefaultKeyer struct{}

// NewDefaultKeyer returns the default keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// SketchKey returns "sketch:<digest>".
func (DefaultKeyer) SketchKey(inputHash string, opts SketchKeyOpts) string {
	return hashKey(KeyTypeSketch, inputHash, opts)
}

// FileKey returns "file:<digest>".
func (DefaultKeyer) FileKey(fileID string, opts SketchKeyOpts) string {
	return hashKey(KeyTypeFile, fileID, opts)
}

// hashKey returns kind + ":" + the hex SHA-256 of id followed by the JSON
// encoding of opts. SketchKeyOpts always marshals, so the error is ignored.
func hashKey(kind, id string, opts SketchKeyOpts) string {
	h := sha256.New()
	h.Write([]byte(id))
	h.Write([]byte{0})
	enc, _ := json.Marshal(opts)
	h.Write(enc)
	return kind + ":" + hex.EncodeToString(h.Sum(nil))
}

// Hash returns the hex SHA-256 of data. Pipeline results use it as the
// input hash, and [FileCache] uses it for entry file names.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
