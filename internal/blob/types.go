// Package blob is the entry point to attachment blob storage. Callers depend
// on Store and open a backend through Open; the concrete drivers live under
// internal/infra/blob.
package blob

import (
	"samplecore/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrUnsupported = core.ErrUnsupported
	ErrNotFound    = core.ErrNotFound
	ErrExists      = core.ErrExists
	ErrInvalidKey  = core.ErrInvalidKey
)

// AttachmentKey derives the storage key of an uploaded attachment.
func AttachmentKey(samplePUID, checksum, filename string) string {
	return core.AttachmentKey(samplePUID, checksum, filename)
}
