package errors

// IndexError provides specialized error handling for HAMT index operations.
// This structure extends the base error system with index-specific context
// while properly supporting method chaining through all base error methods.
type IndexError struct {
	// Embed the base error to inherit all standard error functionality
	// including error chaining, structured details, and error codes.
	*baseError

	// Identifies which key was being processed when the error occurred.
	key string

	// Describes what index operation was being performed when the
	// error occurred (e.g., "Insert", "Find", "Flush").
	operation string

	// Captures the size of the index at the time of the error.
	indexSize int

	// Captures the trie depth (number of 6-bit hash slices consumed) at
	// which the error occurred. Useful for diagnosing collision-handling
	// and linear-node bugs.
	depth int
}

// NewIndexError creates a new index-specific error with the provided context.
func NewIndexError(err error, code ErrorCode, msg string) *IndexError {
	return &IndexError{
		baseError: NewBaseError(err, code, msg),
	}
}

// WithMessage updates the error message while maintaining the IndexError type.
func (ie *IndexError) WithMessage(msg string) *IndexError {
	ie.baseError.WithMessage(msg)
	return ie
}

// WithCode sets the error code while preserving the IndexError type.
func (ie *IndexError) WithCode(code ErrorCode) *IndexError {
	ie.baseError.WithCode(code)
	return ie
}

// WithDetail adds contextual information while maintaining the IndexError type.
func (ie *IndexError) WithDetail(key string, value any) *IndexError {
	ie.baseError.WithDetail(key, value)
	return ie
}

// WithKey records which key was being processed when the error occurred.
func (ie *IndexError) WithKey(key string) *IndexError {
	ie.key = key
	return ie
}

// WithOperation records what index operation was being performed.
func (ie *IndexError) WithOperation(operation string) *IndexError {
	ie.operation = operation
	return ie
}

// WithIndexSize captures the size of the index when the error occurred.
func (ie *IndexError) WithIndexSize(size int) *IndexError {
	ie.indexSize = size
	return ie
}

// WithDepth captures the trie depth at which the error occurred.
func (ie *IndexError) WithDepth(depth int) *IndexError {
	ie.depth = depth
	return ie
}

// Key returns the key that was being processed when the error occurred.
func (ie *IndexError) Key() string {
	return ie.key
}

// Operation returns the name of the operation that was being performed.
func (ie *IndexError) Operation() string {
	return ie.operation
}

// IndexSize returns the size of the index when the error occurred.
func (ie *IndexError) IndexSize() int {
	return ie.indexSize
}

// Depth returns the trie depth at which the error occurred.
func (ie *IndexError) Depth() int {
	return ie.depth
}

// NewIndexCorruptionError creates an error for index corruption scenarios,
// e.g. a node whose bitmap popcount disagrees with its child array length.
func NewIndexCorruptionError(operation string, indexSize int, cause error) *IndexError {
	return NewIndexError(cause, ErrorCodeIndexCorrupted, "index data structure corrupted").
		WithOperation(operation).
		WithIndexSize(indexSize).
		WithDetail("corruption_detected", true).
		WithDetail("recovery_required", true)
}

// NewNotLatestRevisionError reports a write attempt through an index handle
// that was loaded from a revision older than the current head.
func NewNotLatestRevisionError(key string) *IndexError {
	return NewIndexError(nil, ErrorCodeIndexNotLatestRevision, "index was not loaded from the latest revision").
		WithKey(key).
		WithOperation("Insert")
}
