package testsupport

import (
	"fmt"
	"sync/atomic"
	"time"
)

// seeded from the clock so names differ across runs against a shared database
var testSequence = uint64(time.Now().UnixNano() % 1000000)

// NextSequence returns next unique sequence number
func NextSequence() uint64 {
	return atomic.AddUint64(&testSequence, 1)
}

// UniqueName generates a unique name with given prefix
// Example: UniqueName("pair") -> "pair_123456"
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, NextSequence())
}

// UniqueAssetID generates a unique asset identifier
// Example: UniqueAssetID("AAPL") -> "AAPL.123456"
func UniqueAssetID(base string) string {
	return fmt.Sprintf("%s.%d", base, NextSequence())
}
