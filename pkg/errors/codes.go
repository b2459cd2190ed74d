package errors

// ErrorCode represents a standardized way to categorize different types of errors.
type ErrorCode string

// Base error codes represent the fundamental categories of failures that can
// occur across any software system. These codes provide the foundation layer
// of error classification.
const (
	// ErrorCodeIO represents failures in input/output operations: growing
	// the backing file, mapping a region, flushing writes to disk.
	ErrorCodeIO ErrorCode = "IO_ERROR"

	// ErrorCodeInvalidInput represents client-side errors where the provided
	// data doesn't meet the system's requirements or constraints.
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrorCodeInternal represents unexpected system failures that don't fit
	// into other categories.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Format errors correspond to spec §7's "Format errors" taxonomy: violations
// of the on-disk byte layout that are always fatal to the caller.
const (
	// ErrorCodeFooterCorrupt indicates a trailer failed CRC, magic, or
	// bounds validation while walking the generation chain.
	ErrorCodeFooterCorrupt ErrorCode = "FOOTER_CORRUPT"

	// ErrorCodeHeaderCorrupt indicates the bootstrap header failed magic or
	// CRC validation.
	ErrorCodeHeaderCorrupt ErrorCode = "HEADER_CORRUPT"

	// ErrorCodeVersionMismatch indicates the file's major format version is
	// not supported by this build.
	ErrorCodeVersionMismatch ErrorCode = "VERSION_MISMATCH"

	// ErrorCodeBadAddress indicates an address lies outside the mapped
	// file, is misaligned, or carries an unexpected tag bit.
	ErrorCodeBadAddress ErrorCode = "BAD_ADDRESS"
)

// Capacity errors correspond to spec §7's "Capacity errors": fatal for the
// current operation but recoverable at the caller (e.g. retry after freeing
// disk space).
const (
	// ErrorCodeCannotExtend indicates the backing file could not be grown.
	ErrorCodeCannotExtend ErrorCode = "CANNOT_EXTEND"

	// ErrorCodeMapFailed indicates the region manager could not establish a
	// memory mapping over a requested range.
	ErrorCodeMapFailed ErrorCode = "MAP_FAILED"

	// ErrorCodePermissionDenied indicates insufficient permissions to access
	// the backing file or directory.
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// ErrorCodeDiskFull indicates the storage device has run out of space.
	ErrorCodeDiskFull ErrorCode = "DISK_FULL"

	// ErrorCodeFilesystemReadonly indicates the filesystem is mounted
	// read-only.
	ErrorCodeFilesystemReadonly ErrorCode = "FILESYSTEM_READONLY"
)

// Index-specific error codes address the specialized needs of HAMT
// operations.
const (
	// ErrorCodeIndexCorrupted indicates a structural integrity issue in a
	// HAMT node (bitmap/child-array mismatch, bad tag bits).
	ErrorCodeIndexCorrupted ErrorCode = "INDEX_CORRUPTED"

	// ErrorCodeIndexNotLatestRevision indicates a write was attempted
	// through an index handle loaded from a non-head revision.
	ErrorCodeIndexNotLatestRevision ErrorCode = "INDEX_NOT_LATEST_REVISION"
)

// Transaction/concurrency error codes cover the single-writer lock and the
// transaction state machine (spec §4.5, §5).
const (
	// ErrorCodeLockFailed indicates the writer range lock could not be
	// acquired or released.
	ErrorCodeLockFailed ErrorCode = "LOCK_FAILED"

	// ErrorCodeInvalidTransactionState indicates an operation was
	// attempted in a transaction state that forbids it, e.g. allocating
	// after commit or committing twice.
	ErrorCodeInvalidTransactionState ErrorCode = "INVALID_TRANSACTION_STATE"
)
