// Package blobstore implements the content-addressed blob store: the
// component and service-definition storage backend described in
// spec §4.A, laid out on disk the way the original implementation's
// FileStorage does (data_dir/<hex0:2>/<hex2:4>/<hex>).
package blobstore

import (
	"errors"

	"github.com/wavsnet/operator/pkg/digest"
)

// ErrNotFound is returned by Get when a digest has no stored blob.
var ErrNotFound = errors.New("blobstore: digest not found")

// Store is the content-addressed blob primitive. Put is idempotent:
// repeated puts of identical bytes return the same digest and perform
// no additional writes. Implementations must be safe for concurrent use.
type Store interface {
	Put(data []byte) (digest.Digest, error)
	Get(d digest.Digest) ([]byte, error)
	Exists(d digest.Digest) (bool, error)
	List() ([]digest.Digest, error)
	Reset() error
}
