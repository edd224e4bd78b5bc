package logstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/relaycore/mediacore/internal/corelog"
)

// ErrNoData means the reader has consumed everything currently on disk;
// the position is still valid and GetNextRecord may be retried later if
// the writer is expected to append more (SPEC_FULL.md §4.4).
var ErrNoData = errors.New("logstore: no data")

// Reader is the companion reader for a Writer's log files.
type Reader struct {
	base          string
	dir           string
	blockSize     int64
	blocksPerFile int64

	fileNum    int64
	file       *os.File
	blockBuf   *bytes.Reader
	errorCount int64

	// beginningOfNextFile is set by Seek when asked to position at
	// (n, 0, 0) and file n-1 exists; file n is not opened (and need not
	// exist yet), so "end of log" is a legal seek target (§4.4).
	beginningOfNextFile bool
}

// NewReader constructs a Reader for the same base/blockSize/blocksPerFile
// geometry as a Writer.
func NewReader(opts Options) *Reader {
	return &Reader{
		base:          opts.Base,
		dir:           filepathDir(opts.Base),
		blockSize:     opts.BlockSize,
		blocksPerFile: opts.BlocksPerFile,
	}
}

func filepathDir(base string) string {
	dir := base
	for i := len(dir) - 1; i >= 0; i-- {
		if dir[i] == '/' {
			return dir[:i]
		}
	}
	return "."
}

// Seek positions the reader at pos (SPEC_FULL.md §4.4).
func (r *Reader) Seek(pos Pos) error {
	r.closeCurrent()
	r.beginningOfNextFile = false

	if pos.BlockNum == 0 && pos.RecordNum == 0 {
		if pos.FileNum == 0 {
			r.fileNum = 0
			return r.openForRead(0)
		}
		if _, err := os.Stat(fileName(r.base, r.blockSize, pos.FileNum-1)); err == nil {
			r.fileNum = pos.FileNum
			r.beginningOfNextFile = true
			return nil
		}
	}

	r.fileNum = pos.FileNum
	if err := r.openForRead(pos.BlockNum * r.blockSize); err != nil {
		return err
	}

	for i := int64(0); i < pos.RecordNum; i++ {
		if _, err := r.readFrame(); err != nil {
			return fmt.Errorf("logstore: seek skip record %d/%d: %w", i, pos.RecordNum, err)
		}
	}
	return nil
}

func (r *Reader) closeCurrent() {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}

func (r *Reader) openForRead(offset int64) error {
	f, err := os.Open(fileName(r.base, r.blockSize, r.fileNum))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoData
		}
		return err
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return err
	}
	r.file = f
	return nil
}

// readFrame decodes one record frame directly off the open file, without
// block-level buffering: blocks are a seek/accounting granularity, not a
// hard framing boundary, since records may span block boundaries
// (SPEC_FULL.md §3.6).
func (r *Reader) readFrame() ([]byte, error) {
	return decodeRecord(r.file)
}

// GetNextRecord reads and returns the next record, advancing position.
// Returns ErrNoData at a clean end of currently-written data (not an
// error condition — the position remains valid for a later retry).
func (r *Reader) GetNextRecord() ([]byte, error) {
	if r.beginningOfNextFile {
		if err := r.openForRead(0); err != nil {
			return nil, err
		}
		r.beginningOfNextFile = false
	}

	if r.file == nil {
		if err := r.openForRead(0); err != nil {
			return nil, err
		}
	}

	start, _ := r.file.Seek(0, io.SeekCurrent)
	body, err := r.readFrame()
	if err == nil {
		return body, nil
	}

	if errors.Is(err, io.EOF) {
		// Exhausted this file; try the next one. A missing next file is
		// not fatal (§4.4) — it just means there's no more data yet.
		r.closeCurrent()
		r.fileNum++
		if err := r.openForRead(0); err != nil {
			r.fileNum--
			return nil, ErrNoData
		}
		body, err := r.readFrame()
		if errors.Is(err, io.EOF) {
			return nil, ErrNoData
		}
		if err != nil {
			r.errorCount++
			corelog.Warning("logstore: corrupt record at start of next file, resyncing")
			return nil, err
		}
		return body, nil
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		// A frame cut off at the end of this file continues at the start
		// of the next one. Otherwise it is a partial block/record still
		// being written: rewind so the same bytes are re-read later (§4.4).
		r.file.Seek(start, io.SeekStart) //nolint:errcheck
		if next, oerr := os.Open(fileName(r.base, r.blockSize, r.fileNum+1)); oerr == nil {
			if body, err := decodeRecord(io.MultiReader(r.file, next)); err == nil {
				r.file.Close()
				r.file, r.fileNum = next, r.fileNum+1
				return body, nil
			}
			next.Close()
			r.file.Seek(start, io.SeekStart) //nolint:errcheck
		}
		return nil, ErrNoData
	}

	r.errorCount++
	corelog.Warning("logstore: corrupt record, counted and skipped")
	return nil, err
}

// ErrorCount reports the number of corrupted records encountered.
func (r *Reader) ErrorCount() int64 { return r.errorCount }

// Rewind positions the reader at the first numbered file found on disk
// (not necessarily file 0).
func (r *Reader) Rewind() error {
	nums, err := existingFileNums(r.dir, r.base, r.blockSize)
	if err != nil {
		return err
	}
	if len(nums) == 0 {
		return ErrNoData
	}
	return r.Seek(Pos{FileNum: nums[0]})
}

// Close releases the open file handle, if any.
func (r *Reader) Close() error {
	r.closeCurrent()
	return nil
}

// CleanLog removes every file strictly before firstPos.FileNum, preserving
// the invariant that a reader seeking to firstPos still finds its data
// (SPEC_FULL.md §4.4, scenario S2).
func CleanLog(opts Options, firstPos Pos) error {
	nums, err := existingFileNums(filepathDir(opts.Base), opts.Base, opts.BlockSize)
	if err != nil {
		return err
	}
	for _, n := range nums {
		if n < firstPos.FileNum {
			if err := os.Remove(fileName(opts.Base, opts.BlockSize, n)); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}
