package header

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/iamNilotpal/pstore/internal/region"
	"github.com/iamNilotpal/pstore/pkg/address"
	"github.com/iamNilotpal/pstore/pkg/errors"
)

// NumIndices is the fixed number of named indices a trailer carries a root
// for (spec §4.9: name, path, fragment, compilation, debug_line_header,
// write).
const NumIndices = 6

var (
	trailerSig1 = [8]byte{'h', 'P', 'P', 'y', 'f', 'o', 'o', 'T'}
	trailerSig2 = [8]byte{'h', 'P', 'P', 'y', 'T', 'a', 'i', 'l'}
)

// byte offsets within a trailer record.
const (
	tOffSig1         = 0
	tOffGeneration   = 8
	tOffSize         = 16
	tOffTime         = 24
	tOffPrev         = 32
	tOffIndexRecords = 40
	tOffCRC          = tOffIndexRecords + 8*NumIndices
	tOffSig2         = tOffCRC + 4

	// TrailerSize is the fixed size in bytes of one trailer record.
	TrailerSize = tOffSig2 + 8

	trailerCRCBodyEnd = tOffCRC
)

// Trailer is the per-revision metadata record written exactly once at the
// end of each successful transaction (spec §4.4, §3 entity table).
type Trailer struct {
	Generation     uint64
	Size           uint64
	TimeMs         uint64
	PrevGeneration address.Typed[Trailer]
	IndexRecords   [NumIndices]address.Address
}

func encodeTrailerBody(t *Trailer, buf []byte) {
	copy(buf[tOffSig1:tOffSig1+8], trailerSig1[:])
	binary.LittleEndian.PutUint64(buf[tOffGeneration:tOffGeneration+8], t.Generation)
	binary.LittleEndian.PutUint64(buf[tOffSize:tOffSize+8], t.Size)
	binary.LittleEndian.PutUint64(buf[tOffTime:tOffTime+8], t.TimeMs)
	binary.LittleEndian.PutUint64(buf[tOffPrev:tOffPrev+8], uint64(t.PrevGeneration.Addr))
	for i, rec := range t.IndexRecords {
		off := tOffIndexRecords + i*8
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(rec))
	}
}

// WriteTrailer serializes t at addr within the mapped file, computing and
// stamping its CRC and both magics.
func WriteTrailer(mgr *region.Manager, addr address.Address, t *Trailer) error {
	buf, err := mgr.View(addr, TrailerSize)
	if err != nil {
		return err
	}

	encodeTrailerBody(t, buf)
	crc := crc32.ChecksumIEEE(buf[:trailerCRCBodyEnd])
	binary.LittleEndian.PutUint32(buf[tOffCRC:tOffCRC+4], crc)
	copy(buf[tOffSig2:tOffSig2+8], trailerSig2[:])
	return nil
}

// Valid reports whether the bytes at addr form a structurally valid
// trailer: addr is null, or it lies within the file, is at least
// 8-byte-aligned, both magics match, and the body CRC matches (spec §4.4
// "Validation"). It never returns an error; a consumer walking the chain
// treats a false result as footer_corrupt, per spec.
func Valid(mgr *region.Manager, addr address.Address) bool {
	if addr.IsNull() {
		return true
	}
	if uint64(addr)%8 != 0 {
		return false
	}

	buf, err := mgr.View(addr, TrailerSize)
	if err != nil {
		return false
	}

	if string(buf[tOffSig1:tOffSig1+8]) != string(trailerSig1[:]) {
		return false
	}
	if string(buf[tOffSig2:tOffSig2+8]) != string(trailerSig2[:]) {
		return false
	}

	wantCRC := crc32.ChecksumIEEE(buf[:trailerCRCBodyEnd])
	gotCRC := binary.LittleEndian.Uint32(buf[tOffCRC : tOffCRC+4])
	return wantCRC == gotCRC
}

// LoadTrailer reads and validates the trailer at addr, returning a
// footer_corrupt FormatError if Valid would return false for a non-null
// address.
func LoadTrailer(mgr *region.Manager, addr address.Address) (*Trailer, error) {
	if addr.IsNull() {
		return nil, errors.NewFooterCorruptError(uint64(addr), "trailer.address", nil)
	}
	if !Valid(mgr, addr) {
		return nil, errors.NewFooterCorruptError(uint64(addr), "trailer", nil)
	}

	buf, err := mgr.View(addr, TrailerSize)
	if err != nil {
		return nil, err
	}

	t := &Trailer{
		Generation: binary.LittleEndian.Uint64(buf[tOffGeneration : tOffGeneration+8]),
		Size:       binary.LittleEndian.Uint64(buf[tOffSize : tOffSize+8]),
		TimeMs:     binary.LittleEndian.Uint64(buf[tOffTime : tOffTime+8]),
	}
	t.PrevGeneration = address.MakeTyped[Trailer](
		address.Address(binary.LittleEndian.Uint64(buf[tOffPrev : tOffPrev+8])),
	)
	for i := range t.IndexRecords {
		off := tOffIndexRecords + i*8
		t.IndexRecords[i] = address.Address(binary.LittleEndian.Uint64(buf[off : off+8]))
	}

	return t, nil
}
