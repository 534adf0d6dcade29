// Package recorder implements the frame-indexed append-only dataset
// writer. Four parallel growable arrays (adjustment, attenuation, uid,
// filters_moving), indexed by frame number, are persisted to a single
// file that external readers may tail while the writer appends.
//
// The arrays always hold equal lengths, only ever grow, and grow in a
// single step per write. Divergence between the four lengths is a
// programming-error-class fatal condition: the recorder aborts and
// refuses further writes.
package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beamctl/filterbridge/internal/metric"
	"github.com/beamctl/filterbridge/pkg/log"
)

// Recorder errors.
var (
	// ErrNotOpen is returned by Write when no file is open.
	ErrNotOpen = errors.New("recorder: no file open")

	// ErrAborted is returned after a size invariant violation; the
	// recorder cannot be reused.
	ErrAborted = errors.New("recorder: aborted after invariant violation")

	// ErrSizeInvariant reports diverging dataset lengths.
	ErrSizeInvariant = errors.New("recorder: dataset lengths diverged")

	// ErrNegativeFrame is returned for a negative frame number.
	ErrNegativeFrame = errors.New("recorder: negative frame number")
)

// Record holds the four per-frame values written at one frame index.
// Values are taken verbatim from the peer; this layer performs no
// domain range validation.
type Record struct {
	Adjustment    int64
	Attenuation   int64
	UID           int64
	FiltersMoving bool
}

// dataset is one of the four growable arrays. Each tracks its own
// length so that the equal-length invariant is checked, not assumed.
type dataset struct {
	name   string
	col    int
	length int64
}

// Recorder owns at most one open dataset file. Writes arrive on the
// event-consumer goroutine while Close can come from the control
// consumer (frame timeout), from shutdown teardown or from any API
// caller, so every method serializes on the internal mutex: the file
// handle is only ever touched by one goroutine at a time.
type Recorder struct {
	logger  log.Logger
	metrics *metric.Metrics

	mu         sync.Mutex
	targetPath string
	openPath   string
	file       *os.File
	datasets   [numColumns]*dataset
	acqID      uuid.UUID
	aborted    bool
}

// New creates a recorder with no target path and no open file. Metrics
// may be nil.
func New(logger log.Logger, metrics *metric.Metrics) *Recorder {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Recorder{logger: logger, metrics: metrics}
}

// SetTargetPath validates and stores the path the next Open will
// create. The parent directory must exist. If the path already names a
// file, a time-suffixed alternate is derived so prior data is never
// clobbered silently. Returns false and leaves the target unchanged on
// an invalid path.
//
// The rename-on-conflict policy can race with an external reader
// already tailing the original path; that hazard is unresolved
// upstream of this layer.
func (r *Recorder) SetTargetPath(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if path == "" {
		r.logger.Warn("empty dataset path rejected")
		return false
	}

	parent := filepath.Dir(path)
	info, err := os.Stat(parent)
	if err != nil || !info.IsDir() {
		r.logger.Warn("dataset path parent is not a directory", log.String("parent", parent))
		return false
	}

	if _, err := os.Stat(path); err == nil {
		alternate := availableAlternate(path, time.Now())
		r.logger.Info("dataset file exists, using alternate name",
			log.String("path", path),
			log.String("alternate", alternate),
		)
		path = alternate
	}

	r.targetPath = path
	return true
}

// TargetPath returns the path the next Open will create.
func (r *Recorder) TargetPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.targetPath
}

// timestampAlternate derives an alternate name by inserting a
// time-based suffix before the extension.
func timestampAlternate(path string, now time.Time) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s-%s%s", stem, now.Format("20060102-150405"), ext)
}

// availableAlternate returns a non-existing alternate for path. The
// timestamp suffix has second resolution, so conflicts within one
// second get an additional counter suffix.
func availableAlternate(path string, now time.Time) string {
	base := timestampAlternate(path, now)
	candidate := base
	for n := 2; ; n++ {
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		candidate = fmt.Sprintf("%s-%d%s", stem, n, ext)
	}
}

// Open creates a new dataset file at the target path. Idempotent: if
// the same path is already open it returns true without touching the
// file. If a different file is open it fails closed, returning false
// and leaving the open file untouched. Returns false on invalid paths.
func (r *Recorder) Open() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.aborted {
		r.logger.Error("open rejected, recorder aborted")
		return false
	}

	if r.file != nil {
		if r.targetPath == r.openPath {
			r.logger.Debug("dataset file already open", log.String("path", r.openPath))
			return true
		}
		r.logger.Warn("another dataset file is already open and being written to",
			log.String("open", r.openPath),
			log.String("requested", r.targetPath),
		)
		return false
	}

	if r.targetPath == "" {
		r.logger.Warn("no dataset path set")
		return false
	}
	parent := filepath.Dir(r.targetPath)
	if info, err := os.Stat(parent); err != nil || !info.IsDir() {
		r.logger.Warn("dataset path parent is not a directory", log.String("parent", parent))
		return false
	}

	f, err := os.OpenFile(r.targetPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		r.logger.Warn("dataset file create failed", log.String("path", r.targetPath), log.Err(err))
		return false
	}

	acqID := uuid.New()
	h := header{
		Version:        formatVersion,
		ConcurrentRead: true,
		Rows:           1,
		AcquisitionID:  acqID,
	}
	if _, err := f.WriteAt(encodeHeader(h), 0); err == nil {
		// Reserve the first row so unwritten index 0 reads as zero.
		err = f.Truncate(headerSize + rowSize)
		if err == nil {
			err = f.Sync()
		}
	} else {
		r.logger.Error("dataset header write failed", log.String("path", r.targetPath), log.Err(err))
		f.Close()
		os.Remove(r.targetPath)
		return false
	}

	r.file = f
	r.openPath = r.targetPath
	r.acqID = acqID
	for col, name := range columnNames {
		r.datasets[col] = &dataset{name: name, col: col, length: 1}
	}

	if r.metrics != nil {
		r.metrics.FileOpen.Set(1)
		r.metrics.DatasetLength.Set(1)
	}
	r.logger.Info("dataset file open",
		log.String("path", r.openPath),
		log.String("acquisition", acqID.String()),
	)
	return true
}

// IsOpen reports whether a dataset file is currently open.
func (r *Recorder) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file != nil
}

// OpenPath returns the path of the open file, or "" when closed.
func (r *Recorder) OpenPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openPath
}

// Length returns the common dataset length, or 0 when closed.
func (r *Recorder) Length() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return 0
	}
	return r.datasets[0].length
}

// Close syncs and releases the open file. A no-op, not an error, when
// already closed.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return
	}

	if err := r.file.Sync(); err != nil {
		r.logger.Warn("dataset sync on close failed", log.String("path", r.openPath), log.Err(err))
	}
	if err := r.file.Close(); err != nil {
		r.logger.Warn("dataset close failed", log.String("path", r.openPath), log.Err(err))
	}
	r.logger.Info("dataset file closed",
		log.String("path", r.openPath),
		log.String("acquisition", r.acqID.String()),
	)

	r.file = nil
	r.openPath = ""
	for col := range r.datasets {
		r.datasets[col] = nil
	}
	if r.metrics != nil {
		r.metrics.FileOpen.Set(0)
	}
}

// Write stores the record's four values at index frameNumber, growing
// all four datasets in a single step when the index is beyond the
// current length. The resize is persisted strictly before the values
// so a concurrent reader never observes a written index beyond the
// reported length. The file is synced after every write.
func (r *Recorder) Write(frameNumber int64, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.aborted {
		return ErrAborted
	}
	if r.file == nil {
		return ErrNotOpen
	}
	if frameNumber < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeFrame, frameNumber)
	}

	length := r.datasets[0].length
	if frameNumber >= length {
		newLen := length + 1
		if frameNumber+1 > newLen {
			newLen = frameNumber + 1
		}
		if err := r.resize(newLen); err != nil {
			return err
		}
	}

	values := [numColumns]int64{
		colAdjustment:    rec.Adjustment,
		colAttenuation:   rec.Attenuation,
		colUID:           rec.UID,
		colFiltersMoving: boolToInt64(rec.FiltersMoving),
	}
	for col := range r.datasets {
		if err := writeValue(r.file, frameNumber, col, values[col]); err != nil {
			return fmt.Errorf("recorder: write %s[%d]: %w", r.datasets[col].name, frameNumber, err)
		}
	}

	if err := r.checkLengths(); err != nil {
		return err
	}
	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("recorder: sync: %w", err)
	}

	if r.metrics != nil {
		r.metrics.FramesWritten.Inc()
		r.metrics.DatasetLength.Set(float64(r.datasets[0].length))
	}
	return nil
}

// resize grows all four datasets to newLen in one step: the file is
// extended (zero-filled), the header row count updated, and each
// dataset's length advanced.
func (r *Recorder) resize(newLen int64) error {
	if err := r.file.Truncate(headerSize + newLen*rowSize); err != nil {
		return fmt.Errorf("recorder: extend to %d rows: %w", newLen, err)
	}
	if err := writeRows(r.file, newLen); err != nil {
		return fmt.Errorf("recorder: update row count: %w", err)
	}
	for _, d := range r.datasets {
		d.length = newLen
	}
	return nil
}

// checkLengths asserts the equal-length invariant. A violation aborts
// the recorder permanently.
func (r *Recorder) checkLengths() error {
	length := r.datasets[0].length
	for _, d := range r.datasets[1:] {
		if d.length != length {
			r.aborted = true
			r.logger.Error("dataset length divergence, recorder aborted",
				log.String("dataset", d.name),
				log.Int64("length", d.length),
				log.Int64("expected", length),
			)
			return fmt.Errorf("%w: %s has %d rows, expected %d",
				ErrSizeInvariant, d.name, d.length, length)
		}
	}
	return nil
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
