// Package header implements the bootstrap header and the chain of
// per-revision trailers it anchors (spec §4.4), plus the "footer position
// view" readers use to observe the currently published revision (spec
// §4.1 component 10, the single atomic word in the header).
//
// Byte layouts are exact and little-endian per spec §6 and §9's design
// note ("pick little-endian... do not inherit host endianness"); that is
// why this package reaches for encoding/binary and hash/crc32 directly
// rather than a higher-level serialization library — the wire format is
// specified down to the byte, which is exactly what those two standard
// packages are for.
package header

import (
	"encoding/binary"
	"hash/crc32"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"

	"github.com/iamNilotpal/pstore/internal/region"
	"github.com/iamNilotpal/pstore/pkg/address"
	"github.com/iamNilotpal/pstore/pkg/errors"
)

// HeaderSize is the fixed, 64-byte-aligned size of the bootstrap header.
const HeaderSize = 64

// VersionMajor and VersionMinor identify the on-disk format this build
// writes and the major version it will accept on open.
const (
	VersionMajor byte = 1
	VersionMinor byte = 0
)

var (
	// headerSig1 is "pStr" as specified in spec §6.
	headerSig1 = [4]byte{0x70, 0x53, 0x74, 0x72}

	// headerSig2 is the fixed magic word 0x0507FFFF, little-endian.
	headerSig2 uint32 = 0x0507FFFF
)

// byte offsets within the fixed 64-byte header.
const (
	offSig1       = 0
	offSig2       = 4
	offVersion    = 8
	offUUID       = 10
	offCRC        = 26
	offFooterPos  = 32
	crcBodyLength = offCRC // everything before the CRC field is covered by it
)

// Header is the bootstrap record at offset 0 of the arena file: magic
// bytes, format version, instance UUID, a CRC over those immutable
// fields, and the single mutable field FooterPos.
type Header struct {
	VersionMajor byte
	VersionMinor byte
	UUID         uuid.UUID
	FooterPos    address.AtomicAddress
}

// CurrentFooter is the "Footer Position View": an acquire-load of the one
// word that publishes a revision (spec component 10, §4.5 step 6, §5).
func (h *Header) CurrentFooter() address.Address {
	return h.FooterPos.Load()
}

// encodeImmutable writes everything except FooterPos into buf[0:HeaderSize]
// and returns the CRC it computed over the body.
func encodeImmutable(h *Header, buf []byte) uint32 {
	copy(buf[offSig1:offSig1+4], headerSig1[:])
	binary.LittleEndian.PutUint32(buf[offSig2:offSig2+4], headerSig2)
	buf[offVersion] = h.VersionMajor
	buf[offVersion+1] = h.VersionMinor
	copy(buf[offUUID:offUUID+16], h.UUID[:])
	return crc32.ChecksumIEEE(buf[:crcBodyLength])
}

// footerPosWord returns a pointer to the footer_pos word within buf, for use
// with sync/atomic. The mmap mapping is always page-aligned and offFooterPos
// is 8-byte aligned within it, so the cast is safe.
func footerPosWord(buf []byte) *uint64 {
	return (*uint64)(unsafe.Pointer(&buf[offFooterPos]))
}

// Write serializes h into the header region of the mapped file, including
// a fresh CRC, and publishes the given footer address as the initial
// value of footer_pos.
func Write(mgr *region.Manager, h *Header, footer address.Address) error {
	buf, err := mgr.View(address.Address(0), HeaderSize)
	if err != nil {
		return err
	}

	crc := encodeImmutable(h, buf)
	binary.LittleEndian.PutUint32(buf[offCRC:offCRC+4], crc)
	atomic.StoreUint64(footerPosWord(buf), uint64(footer))

	h.FooterPos.Store(footer)
	return nil
}

// PublishFooter atomically updates footer_pos both in the in-memory Header
// and in the mapped bytes backing it. This is the commit linearisation
// point (spec §4.5 step 6): an atomic store over the mapped word, not a
// plain little-endian memcpy, so a reader in another process never
// observes a torn half-written value.
func PublishFooter(mgr *region.Manager, h *Header, footer address.Address) error {
	buf, err := mgr.View(address.Address(0), HeaderSize)
	if err != nil {
		return err
	}
	atomic.StoreUint64(footerPosWord(buf), uint64(footer))
	h.FooterPos.Store(footer)
	return nil
}

// Load reads and validates the header at offset 0 of the mapped file,
// returning a FormatError (header_corrupt or version_mismatch) if
// validation fails.
func Load(mgr *region.Manager) (*Header, error) {
	buf, err := mgr.View(address.Address(0), HeaderSize)
	if err != nil {
		return nil, err
	}

	if string(buf[offSig1:offSig1+4]) != string(headerSig1[:]) {
		return nil, errors.NewHeaderCorruptError("header.signature1", nil)
	}
	if binary.LittleEndian.Uint32(buf[offSig2:offSig2+4]) != headerSig2 {
		return nil, errors.NewHeaderCorruptError("header.signature2", nil)
	}

	major := buf[offVersion]
	minor := buf[offVersion+1]
	if major != VersionMajor {
		return nil, errors.NewVersionMismatchError(major, VersionMajor)
	}

	h := &Header{VersionMajor: major, VersionMinor: minor}
	copy(h.UUID[:], buf[offUUID:offUUID+16])

	wantCRC := crc32.ChecksumIEEE(buf[:crcBodyLength])
	gotCRC := binary.LittleEndian.Uint32(buf[offCRC : offCRC+4])
	if wantCRC != gotCRC {
		return nil, errors.NewHeaderCorruptError("header.crc", nil)
	}

	footer := address.Address(atomic.LoadUint64(footerPosWord(buf)))
	h.FooterPos.Store(footer)
	return h, nil
}

// BuildNewStore writes a fresh header plus an empty revision-0 trailer
// into mgr, as spec §4.4 "Initial state" describes. It is called exactly
// once, when a new database file is created.
//
// The revision-0 trailer starts at the next page boundary after the
// header, not merely the next 8-byte boundary, so the header's page never
// holds any committed arena bytes and stays the one page that is written
// after commit (footer_pos). Protect rounds the start of each range up to a
// page boundary, so it never reaches back into the header's page.
func BuildNewStore(mgr *region.Manager) (*Header, error) {
	trailerAddr := address.Address(address.AlignUp(HeaderSize, region.PageSize()))
	trailerEnd := trailerAddr + address.Address(TrailerSize)

	if uint64(trailerEnd) > mgr.Size() {
		if err := mgr.Grow(uint64(trailerEnd)); err != nil {
			return nil, err
		}
	}

	instanceID, err := uuid.NewRandom()
	if err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeInternal, "failed to generate store instance uuid")
	}

	h := &Header{VersionMajor: VersionMajor, VersionMinor: VersionMinor, UUID: instanceID}

	zero := &Trailer{
		Generation:     0,
		Size:           0,
		TimeMs:         0,
		PrevGeneration: address.MakeTyped[Trailer](address.Null),
	}
	if err := WriteTrailer(mgr, trailerAddr, zero); err != nil {
		return nil, err
	}

	if err := Write(mgr, h, trailerAddr); err != nil {
		return nil, err
	}

	return h, nil
}
