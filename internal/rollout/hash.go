// Package rollout provides deterministic user bucketing for feature flag rollouts.
package rollout

import (
	"github.com/cespare/xxhash/v2"
)

// Buckets is the size of the bucket range: buckets are integers in [0, Buckets).
const Buckets = 100

// Hasher maps an identity within a namespace to a bucket in [0, Buckets).
type Hasher interface {
	Bucket(identity, namespace string) int
}

// XXHasher buckets with 64-bit xxHash of "identity:namespace", reduced modulo
// 100. A non-empty Salt is appended as ":salt". The namespace is part of the
// input, so one identity gets independent buckets per flag or experiment.
type XXHasher struct {
	Salt string
}

// Bucket returns a deterministic bucket (0-99) for the given identity and namespace.
// The same identity + namespace + salt combination will always return the same bucket.
func (h XXHasher) Bucket(identity, namespace string) int {
	return BucketFor(identity, namespace, h.Salt)
}

// BucketFor is the function form of XXHasher.Bucket.
func BucketFor(identity, namespace, salt string) int {
	key := identity + ":" + namespace
	if salt != "" {
		key += ":" + salt
	}
	return int(xxhash.Sum64String(key) % Buckets)
}

// HasherFunc adapts a function to the Hasher interface.
type HasherFunc func(identity, namespace string) int

// Bucket calls f.
func (f HasherFunc) Bucket(identity, namespace string) int {
	return f(identity, namespace)
}
