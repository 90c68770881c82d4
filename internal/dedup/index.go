// Package dedup keeps the set of message ids already handled by ingestion.
//
// An Index is created once per process, optionally seeded from the ledger,
// and lives until exit. It belongs to the single ingestion goroutine and is
// not safe for concurrent use.
package dedup

// Index is an unbounded set of stable message ids.
type Index struct {
	ids map[string]struct{}
}

func New() *Index {
	return &Index{ids: make(map[string]struct{})}
}

// Seen reports whether id was marked before.
func (x *Index) Seen(id string) bool {
	_, ok := x.ids[id]
	return ok
}

func (x *Index) MarkSeen(id string) {
	x.ids[id] = struct{}{}
}

// Seed marks every id in ids.
func (x *Index) Seed(ids []string) {
	for _, id := range ids {
		x.ids[id] = struct{}{}
	}
}

func (x *Index) Len() int { return len(x.ids) }
