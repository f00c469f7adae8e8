package http

import (
	"context"

	"github.com/fyrsmithlabs/consultd/internal/vectorstore"
)

// SessionCounter reports the number of live sessions.
type SessionCounter interface {
	Len() int
}

// CountResources returns live sessions and stored knowledge chunks.
//
// Either value is -1 when its source is nil or, for the index, when
// counting fails.
func CountResources(ctx context.Context, sessions SessionCounter, index vectorstore.Index) (live int, chunks int) {
	live, chunks = -1, -1
	if sessions != nil {
		live = sessions.Len()
	}
	if index != nil {
		if n, err := index.Count(ctx); err == nil {
			chunks = n
		}
	}
	return live, chunks
}
