package index

// BlobCache stores fetched file contents keyed by repository id, path and
// blob SHA. A changed SHA misses the cache, so entries never need
// invalidation.
type BlobCache interface {
	GetBlob(repo, path, sha string) (string, bool, error)
	PutBlob(repo, path, sha, content string) error
	ClearBlobs() error
}

// EntryIndex is the searchable copy of the entry list.
type EntryIndex interface {
	UpsertEntry(r EntryRow) error
	DeleteEntry(key string) error
	AllChecksums() (map[string]string, error)
	Search(query string, limit int) ([]SearchResult, error)
}

// Verify *DB satisfies both interfaces at compile time.
var (
	_ BlobCache  = (*DB)(nil)
	_ EntryIndex = (*DB)(nil)
)
