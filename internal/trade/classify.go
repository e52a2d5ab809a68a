package trade

import "strings"

// Class buckets an engine-reported trade failure into the retry policy.
type Class int

const (
	// ClassFatal aborts the remainder of the batch: retrying cannot help.
	ClassFatal Class = iota
	// ClassRetryable warrants a bounded resubmission after a nonce resync.
	ClassRetryable
)

var retryableMarkers = []string{
	"nonce too low",
	"nonce conflict",
	"invalid nonce",
	"replacement transaction underpriced",
	"transaction underpriced",
	"reverted",
	"execution reverted",
}

var fatalMarkers = []string{
	"insufficient funds",
	"insufficient balance",
	"gas limit too low",
	"intrinsic gas too low",
	"exceeds gas limit",
}

// Classify maps an engine error message to a retry class. Anything not
// recognized is fatal: resubmitting an unexplained failure risks double
// spending.
func Classify(message string) Class {
	m := strings.ToLower(message)
	for _, marker := range fatalMarkers {
		if strings.Contains(m, marker) {
			return ClassFatal
		}
	}
	for _, marker := range retryableMarkers {
		if strings.Contains(m, marker) {
			return ClassRetryable
		}
	}
	return ClassFatal
}
