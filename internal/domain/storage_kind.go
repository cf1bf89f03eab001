package domain

import "fmt"

// StorageKind identifies the medium that holds an object's payload.
// The string values are persisted in the storage_type column.
type StorageKind string

const (
	// StorageKindLocal stores payloads as files on the local filesystem.
	StorageKindLocal StorageKind = "local"

	// StorageKindDatabase stores payloads as rows in the blob_data table.
	StorageKindDatabase StorageKind = "database"

	// StorageKindObjectStore stores payloads in an S3-compatible bucket.
	StorageKindObjectStore StorageKind = "s3"
)

// AllStorageKinds lists every supported storage kind.
var AllStorageKinds = []StorageKind{
	StorageKindLocal,
	StorageKindDatabase,
	StorageKindObjectStore,
}

// ParseStorageKind converts a configuration value into a StorageKind.
func ParseStorageKind(s string) (StorageKind, error) {
	kind := StorageKind(s)
	if !kind.IsValid() {
		return "", NewDomainError(ErrUnknownStorageKind, fmt.Sprintf("supported kinds are %v", AllStorageKinds), s)
	}
	return kind, nil
}

// IsValid returns true if the storage kind is recognized.
func (k StorageKind) IsValid() bool {
	switch k {
	case StorageKindLocal, StorageKindDatabase, StorageKindObjectStore:
		return true
	}
	return false
}

// String returns the string representation.
func (k StorageKind) String() string {
	return string(k)
}
