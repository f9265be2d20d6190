package canon

import "github.com/cespare/xxhash/v2"

// DigestValue returns the xxhash64 digest of v's canonical JSON encoding,
// used as the audit record's call hash. v is
// typically a tool call's arguments map or a resource URI.
func DigestValue(v interface{}) (uint64, error) {
	b, err := CanonicalizeValue(v)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(b), nil
}
