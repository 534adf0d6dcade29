package recorder

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// On-disk layout: a fixed header followed by row-major records of the
// four int64 columns. The header carries the common dataset length;
// rows past the last written index read as zero. The layout supports
// one writer and any number of concurrent readers tailing the file.
const (
	headerSize = 64
	rowSize    = 4 * 8

	formatVersion = 1

	// flagConcurrentRead marks the file as written in concurrent-read
	// mode. Set once at creation.
	flagConcurrentRead = 1 << 0
)

var fileMagic = [4]byte{'F', 'B', 'D', '1'}

// Column order within a row.
const (
	colAdjustment = iota
	colAttenuation
	colUID
	colFiltersMoving
	numColumns
)

// Dataset names, matching the wire protocol field names.
var columnNames = [numColumns]string{
	"adjustment",
	"attenuation",
	"uid",
	"filters_moving",
}

// header is the decoded file header.
type header struct {
	Version        uint16
	ConcurrentRead bool
	Rows           int64
	AcquisitionID  uuid.UUID
}

func encodeHeader(h header) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], fileMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	var flags uint16
	if h.ConcurrentRead {
		flags |= flagConcurrentRead
	}
	binary.LittleEndian.PutUint16(buf[6:8], flags)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.Rows))
	copy(buf[16:32], h.AcquisitionID[:])
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	var h header
	if len(buf) < headerSize {
		return h, fmt.Errorf("recorder: short header: %d bytes", len(buf))
	}
	if [4]byte(buf[0:4]) != fileMagic {
		return h, fmt.Errorf("recorder: bad magic %q", buf[0:4])
	}
	h.Version = binary.LittleEndian.Uint16(buf[4:6])
	if h.Version != formatVersion {
		return h, fmt.Errorf("recorder: unsupported format version %d", h.Version)
	}
	flags := binary.LittleEndian.Uint16(buf[6:8])
	h.ConcurrentRead = flags&flagConcurrentRead != 0
	h.Rows = int64(binary.LittleEndian.Uint64(buf[8:16]))
	copy(h.AcquisitionID[:], buf[16:32])
	return h, nil
}

// writeRows updates the row count field in the header in place.
func writeRows(f *os.File, rows int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(rows))
	_, err := f.WriteAt(buf[:], 8)
	return err
}

// writeValue writes one column value at the given row.
func writeValue(f *os.File, row int64, col int, value int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(value))
	_, err := f.WriteAt(buf[:], headerSize+row*rowSize+int64(col*8))
	return err
}

// readValue reads one column value at the given row.
func readValue(f *os.File, row int64, col int) (int64, error) {
	var buf [8]byte
	if _, err := f.ReadAt(buf[:], headerSize+row*rowSize+int64(col*8)); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}
