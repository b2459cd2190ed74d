package errors

// StorageError is a specialized error type for region/file-level storage
// operations. It embeds baseError to inherit the standard error
// functionality, then adds storage-specific fields that help pinpoint
// exactly where problems occurred.
type StorageError struct {
	*baseError
	addr     uint64 // Byte address involved in the failure, if any.
	offset   int    // Byte offset within the file where the problem happened.
	fileName string // Name of the file that caused the issue.
	path     string // Path of the file that caused the issue.
}

// NewStorageError creates a new storage-specific error.
func NewStorageError(err error, code ErrorCode, msg string) *StorageError {
	return &StorageError{baseError: NewBaseError(err, code, msg)}
}

// WithAddress records the address involved in the error.
func (se *StorageError) WithAddress(addr uint64) *StorageError {
	se.addr = addr
	return se
}

// WithOffset records the byte position where the error occurred.
func (se *StorageError) WithOffset(offset int) *StorageError {
	se.offset = offset
	return se
}

// WithFileName captures which file was being processed when the error occurred.
func (se *StorageError) WithFileName(fileName string) *StorageError {
	se.fileName = fileName
	return se
}

// WithPath captures which path was being processed when the error occurred.
func (se *StorageError) WithPath(path string) *StorageError {
	se.path = path
	return se
}

// WithDetail adds contextual information while maintaining the StorageError type.
func (se *StorageError) WithDetail(key string, value any) *StorageError {
	se.baseError.WithDetail(key, value)
	return se
}

// Address returns the byte address involved in the error, if any.
func (se *StorageError) Address() uint64 {
	return se.addr
}

// Offset returns the byte offset within the file where the error happened.
func (se *StorageError) Offset() int {
	return se.offset
}

// FileName returns the name of the file that was being processed.
func (se *StorageError) FileName() string {
	return se.fileName
}

// Path returns the path of the file that was being processed.
func (se *StorageError) Path() string {
	return se.path
}
