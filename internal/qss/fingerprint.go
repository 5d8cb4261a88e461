package qss

import (
	"hash/fnv"

	pg_query "github.com/lfittl/pg_query_go"
)

// FingerprintQuery derives the QueryID a plans/stats row is keyed by from
// raw query text, adapted from util/normalize.go's NormalizeQuery -
// normalizing literals out of the query with pg_query_go first so two
// executions of the same parameterized statement collapse onto the same
// row, then folding the normalized text down to the int64
// QueryDesc.QueryID expects.
//
// Unparsable text (a fragment, a non-SQL command) still needs a stable
// identity so its stats aren't silently dropped; FingerprintQuery falls
// back to hashing the raw text in that case, mirroring NormalizeQuery's
// degrade-on-parse-error behavior.
func FingerprintQuery(query string) int64 {
	normalized, err := pg_query.Normalize(query)
	if err != nil {
		return hashText(query)
	}
	return hashText(normalized)
}

func hashText(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}
