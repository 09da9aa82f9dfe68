package domain

// Provenance records where a StorageTarget was found.
type Provenance string

const (
	ProvenanceRemovable Provenance = "removable"
	ProvenanceSecondary Provenance = "secondary"
	ProvenanceHome      Provenance = "home"
)

// StorageTarget is the directory daily logs are written to. It is resolved
// once per process.
type StorageTarget struct {
	Dir        string
	Provenance Provenance
}
