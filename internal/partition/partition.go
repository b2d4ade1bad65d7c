// Package partition maps record keys onto reducer buckets. The tracker and
// local-mode workers both append to the same partition files, so every
// caller must go through Bucket.
package partition

import (
	"unicode/utf16"

	"github.com/sagarneeli/mr-tracker/internal/common"
)

// Hash is the 31-multiplier polynomial hash over the UTF-16 code units of
// key, with 32-bit wrapping arithmetic.
func Hash(key string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(key)) {
		h = 31*h + int32(u)
	}
	return h
}

// Bucket returns the partition of key in [0, n). n must be at least 1.
func Bucket(key string, n int) int {
	h := int(Hash(key))
	return ((h % n) + n) % n
}

// Split groups records by bucket, keeping their relative order.
func Split(records []common.Record, n int) [][]common.Record {
	buckets := make([][]common.Record, n)
	for _, r := range records {
		b := Bucket(r.Key, n)
		buckets[b] = append(buckets[b], r)
	}
	return buckets
}
