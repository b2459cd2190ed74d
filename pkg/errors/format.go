package errors

// FormatError reports a violation of the on-disk file format: a bad magic
// signature, a CRC mismatch, an unsupported major version, or an address
// that falls outside the mapped file. These are always fatal: the caller
// cannot recover and continue using the affected structure.
type FormatError struct {
	*baseError

	// addr is the byte address at which the violation was detected, if any.
	addr uint64

	// field names the specific field that failed validation (e.g.
	// "trailer.crc", "header.signature1", "header.version.major").
	field string
}

// NewFormatError creates a new format-specific error.
func NewFormatError(err error, code ErrorCode, msg string) *FormatError {
	return &FormatError{baseError: NewBaseError(err, code, msg)}
}

// WithDetail adds contextual information while maintaining the FormatError type.
func (fe *FormatError) WithDetail(key string, value any) *FormatError {
	fe.baseError.WithDetail(key, value)
	return fe
}

// WithAddress records the address at which the violation was detected.
func (fe *FormatError) WithAddress(addr uint64) *FormatError {
	fe.addr = addr
	return fe
}

// WithField records which field failed validation.
func (fe *FormatError) WithField(field string) *FormatError {
	fe.field = field
	return fe
}

// Address returns the byte address at which the violation was detected.
func (fe *FormatError) Address() uint64 {
	return fe.addr
}

// Field returns the name of the field that failed validation.
func (fe *FormatError) Field() string {
	return fe.field
}

// NewFooterCorruptError reports a trailer that fails CRC, magic, or bounds
// validation while walking the generation chain (spec §4.4 validate).
func NewFooterCorruptError(addr uint64, field string, cause error) *FormatError {
	return NewFormatError(cause, ErrorCodeFooterCorrupt, "trailer failed validation").
		WithAddress(addr).
		WithField(field)
}

// NewHeaderCorruptError reports a header that fails magic or CRC validation.
func NewHeaderCorruptError(field string, cause error) *FormatError {
	return NewFormatError(cause, ErrorCodeHeaderCorrupt, "header failed validation").
		WithField(field)
}

// NewVersionMismatchError reports a major-version mismatch between the file
// and this build of the store.
func NewVersionMismatchError(fileMajor, supportedMajor uint8) *FormatError {
	return NewFormatError(nil, ErrorCodeVersionMismatch, "store format major version is unsupported").
		WithField("header.version.major").
		WithDetail("fileVersion", fileMajor).
		WithDetail("supportedVersion", supportedMajor)
}

// NewBadAddressError reports an address that lies outside the mapped file,
// is misaligned, or (for indirect strings) has an unexpected tag bit set.
func NewBadAddressError(addr uint64, reason string) *FormatError {
	return NewFormatError(nil, ErrorCodeBadAddress, "address is invalid: "+reason).
		WithAddress(addr)
}
