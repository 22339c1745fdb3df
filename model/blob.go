package model

// CurrentGcVersion is stamped on blobs found unreachable while GC runs in verification mode.
const CurrentGcVersion = 2

// BlobInfo is the metadata record of an uploaded blob.
type BlobInfo struct {
	ID          BlobID
	NamespaceID string
	Path        string
	// Imports holds the ids of the blobs this blob references directly, sorted ascending
	Imports   []BlobID
	Aliases   []AliasInfo
	GcVersion int
	// Length is the size in bytes, 0 until the length scanner has seen the blob
	Length int64
}

// AliasInfo is a ranked, human readable name for a fragment of a blob.
type AliasInfo struct {
	Name     string
	Fragment string
	Rank     int
	Data     []byte
}

// BlobAlias is a match returned by an alias lookup.
type BlobAlias struct {
	Target Locator
	Rank   int
	Data   []byte
}
