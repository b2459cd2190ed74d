// Package errors provides the structured error hierarchy used across the
// store. Every domain error embeds baseError, carrying a stable ErrorCode
// plus a bag of structured details, and adds fields specific to the layer
// that raised it: FormatError for on-disk layout violations, StorageError
// for region/file I/O, IndexError for HAMT operations, and ValidationError
// for bad caller input. errors.As/errors.Is work throughout because every
// type implements Unwrap.
package errors

import (
	stdErrors "errors"
	"os"
	"syscall"
)

// IsValidationError checks if the given error is a ValidationError or
// contains one in its error chain.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return stdErrors.As(err, &ve)
}

// IsStorageError determines if an error is related to region/file I/O, such
// as mapping failures, growth failures, or protection failures.
func IsStorageError(err error) bool {
	var se *StorageError
	return stdErrors.As(err, &se)
}

// IsIndexError identifies errors that occurred during HAMT index operations.
func IsIndexError(err error) bool {
	var ie *IndexError
	return stdErrors.As(err, &ie)
}

// IsFormatError identifies errors caused by a violation of the on-disk file
// format (bad magic, bad CRC, version mismatch, bad address).
func IsFormatError(err error) bool {
	var fe *FormatError
	return stdErrors.As(err, &fe)
}

// AsValidationError safely extracts a ValidationError from an error chain.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if stdErrors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// AsStorageError extracts StorageError context from an error chain.
func AsStorageError(err error) (*StorageError, bool) {
	var se *StorageError
	if stdErrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// AsIndexError extracts IndexError context from an error chain.
func AsIndexError(err error) (*IndexError, bool) {
	var ie *IndexError
	if stdErrors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// AsFormatError extracts FormatError context from an error chain.
func AsFormatError(err error) (*FormatError, bool) {
	var fe *FormatError
	if stdErrors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from any error that supports it, or
// returns ErrorCodeInternal for errors that don't have specific codes.
func GetErrorCode(err error) ErrorCode {
	if fe, ok := AsFormatError(err); ok {
		return fe.Code()
	}
	if ve, ok := AsValidationError(err); ok {
		return ve.Code()
	}
	if se, ok := AsStorageError(err); ok {
		return se.Code()
	}
	if ie, ok := AsIndexError(err); ok {
		return ie.Code()
	}
	return ErrorCodeInternal
}

// GetErrorDetails extracts structured details from any error that supports
// them, returning an empty map for errors without details.
func GetErrorDetails(err error) map[string]any {
	if fe, ok := AsFormatError(err); ok {
		if details := fe.Details(); details != nil {
			return details
		}
	}
	if ve, ok := AsValidationError(err); ok {
		if details := ve.Details(); details != nil {
			return details
		}
	}
	if se, ok := AsStorageError(err); ok {
		if details := se.Details(); details != nil {
			return details
		}
	}
	if ie, ok := AsIndexError(err); ok {
		if details := ie.Details(); details != nil {
			return details
		}
	}
	return make(map[string]any)
}

// ClassifyDirectoryCreationError analyzes directory creation failures and
// returns appropriate error codes based on the underlying system error.
func ClassifyDirectoryCreationError(err error, path string) error {
	if os.IsPermission(err) {
		return NewStorageError(
			err, ErrorCodePermissionDenied,
			"insufficient permissions to create data directory",
		).WithPath(path).
			WithDetail("operation", "directory_creation").
			WithDetail("required_permission", "write")
	}

	if pathErr, ok := err.(*os.PathError); ok {
		if errno, ok := pathErr.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ENOSPC:
				return NewStorageError(
					err, ErrorCodeDiskFull,
					"insufficient disk space to create data directory",
				).WithPath(path).WithDetail("operation", "directory_creation")
			case syscall.EROFS:
				return NewStorageError(
					err, ErrorCodeFilesystemReadonly,
					"cannot create directory on read-only filesystem",
				).WithPath(path).WithDetail("operation", "directory_creation")
			}
		}
	}

	return NewStorageError(
		err, ErrorCodeIO, "failed to create data directory",
	).WithPath(path).WithDetail("operation", "directory_creation")
}

// ClassifyFileOpenError analyzes file-opening failures and returns
// appropriate error codes based on the underlying system error.
func ClassifyFileOpenError(err error, filePath, fileName string) error {
	if os.IsPermission(err) {
		return NewStorageError(
			err, ErrorCodePermissionDenied,
			"insufficient permissions to open arena file",
		).WithPath(filePath).WithFileName(fileName).
			WithDetail("operation", "file_open")
	}

	if pathErr, ok := err.(*os.PathError); ok {
		if errno, ok := pathErr.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ENOSPC:
				return NewStorageError(
					err, ErrorCodeDiskFull,
					"insufficient disk space to create arena file",
				).WithPath(filePath).WithFileName(fileName).
					WithDetail("operation", "file_open")
			case syscall.EROFS:
				return NewStorageError(
					err, ErrorCodeFilesystemReadonly,
					"cannot create file on read-only filesystem",
				).WithPath(filePath).WithFileName(fileName).
					WithDetail("operation", "file_open")
			}
		}
	}

	return NewStorageError(err, ErrorCodeIO, "failed to open arena file").
		WithPath(filePath).WithFileName(fileName).
		WithDetail("operation", "file_open")
}

// ClassifyGrowError analyzes file-growth failures and returns appropriate
// error codes based on the underlying system error.
func ClassifyGrowError(err error, fileName, filePath string, newSize uint64) error {
	if pathErr, ok := err.(*os.PathError); ok {
		if errno, ok := pathErr.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ENOSPC:
				return NewStorageError(
					err, ErrorCodeDiskFull,
					"cannot grow arena: insufficient disk space",
				).WithFileName(fileName).WithPath(filePath).
					WithDetail("operation", "grow").WithDetail("requestedSize", newSize)
			case syscall.EROFS:
				return NewStorageError(
					err, ErrorCodeFilesystemReadonly,
					"cannot grow arena: filesystem is read-only",
				).WithFileName(fileName).WithPath(filePath).
					WithDetail("operation", "grow")
			}
		}
	}

	return NewStorageError(
		err, ErrorCodeCannotExtend, "failed to grow arena file",
	).WithFileName(fileName).WithPath(filePath).
		WithDetail("operation", "grow").WithDetail("requestedSize", newSize)
}
