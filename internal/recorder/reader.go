package recorder

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// FileInfo describes an open dataset file.
type FileInfo struct {
	Version        uint16
	ConcurrentRead bool
	Length         int64
	AcquisitionID  uuid.UUID
}

// File reads a dataset file written by a Recorder, possibly while the
// writer is still appending. Refresh picks up growth.
type File struct {
	f    *os.File
	info FileInfo
}

// OpenFile opens an existing dataset file read-only.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, headerSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("recorder: read header: %w", err)
	}
	h, err := decodeHeader(buf)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &File{
		f: f,
		info: FileInfo{
			Version:        h.Version,
			ConcurrentRead: h.ConcurrentRead,
			Length:         h.Rows,
			AcquisitionID:  h.AcquisitionID,
		},
	}, nil
}

// Info returns the file metadata as of the last Refresh.
func (r *File) Info() FileInfo {
	return r.info
}

// Refresh re-reads the row count, picking up appends by a live writer.
func (r *File) Refresh() error {
	buf := make([]byte, headerSize)
	if _, err := r.f.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("recorder: refresh header: %w", err)
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return err
	}
	r.info.Length = h.Rows
	return nil
}

// Row returns the record stored at the given frame index.
func (r *File) Row(frame int64) (Record, error) {
	if frame < 0 || frame >= r.info.Length {
		return Record{}, fmt.Errorf("recorder: frame %d out of range [0,%d)", frame, r.info.Length)
	}

	var values [numColumns]int64
	for col := range values {
		v, err := readValue(r.f, frame, col)
		if err != nil {
			return Record{}, fmt.Errorf("recorder: read %s[%d]: %w", columnNames[col], frame, err)
		}
		values[col] = v
	}
	return Record{
		Adjustment:    values[colAdjustment],
		Attenuation:   values[colAttenuation],
		UID:           values[colUID],
		FiltersMoving: values[colFiltersMoving] != 0,
	}, nil
}

// Dataset returns the full contents of one named column.
func (r *File) Dataset(name string) ([]int64, error) {
	col := -1
	for i, n := range columnNames {
		if n == name {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("recorder: unknown dataset %q", name)
	}

	out := make([]int64, r.info.Length)
	for frame := int64(0); frame < r.info.Length; frame++ {
		v, err := readValue(r.f, frame, col)
		if err != nil {
			return nil, fmt.Errorf("recorder: read %s[%d]: %w", name, frame, err)
		}
		out[frame] = v
	}
	return out, nil
}

// Close releases the file.
func (r *File) Close() error {
	return r.f.Close()
}
