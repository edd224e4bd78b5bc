package logstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/relaycore/mediacore/internal/corelog"
)

// Writer is the append-only record log writer (SPEC_FULL.md §4.3).
// Not safe for concurrent use; callers serialize access (typically by
// only calling it from one selector goroutine or recording element).
type Writer struct {
	base      string
	dir       string
	blockSize int64
	blocksPerFile int64
	deflate   bool
	temporary bool

	lockPath string
	lockFile *os.File

	fileNum      int64
	file         *os.File
	flushedBytes int64 // always a multiple of blockSize once at rest

	pending        []byte
	recordOffsets  []int64 // start offsets of complete records within pending
	closed         bool
}

// Options configures a Writer/Reader pair. Base is a path prefix (may
// include a directory); files are created alongside it.
type Options struct {
	Base                     string
	BlockSize                int64
	BlocksPerFile            int64
	Deflate                  bool
	TemporaryIncompleteFile  bool
}

// NewWriter constructs a Writer without touching the filesystem; call
// Initialize before writing.
func NewWriter(opts Options) *Writer {
	return &Writer{
		base:          opts.Base,
		dir:           filepath.Dir(opts.Base),
		blockSize:     opts.BlockSize,
		blocksPerFile: opts.BlocksPerFile,
		deflate:       opts.Deflate,
		temporary:     opts.TemporaryIncompleteFile,
	}
}

// Initialize acquires the process-exclusive lock file, scans the target
// directory for existing log files, and opens (or creates) the current
// file for append, truncating any trailing partial block (SPEC_FULL.md
// §4.3).
func (w *Writer) Initialize() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("logstore: create directory: %w", err)
	}

	if err := w.acquireLock(); err != nil {
		return err
	}

	if w.temporary {
		if err := os.MkdirAll(filepath.Join(w.dir, "temp"), 0o755); err != nil {
			return fmt.Errorf("logstore: create temp directory: %w", err)
		}
	}

	nums, err := existingFileNums(w.dir, w.base, w.blockSize)
	if err != nil {
		w.releaseLock()
		return err
	}

	if len(nums) == 0 {
		w.fileNum = 0
		return w.openCurrentFileForWrite(true)
	}

	w.fileNum = nums[len(nums)-1]
	if err := w.openCurrentFileForWrite(false); err != nil {
		w.releaseLock()
		return err
	}

	info, err := w.file.Stat()
	if err != nil {
		w.releaseLock()
		return err
	}

	aligned := (info.Size() / w.blockSize) * w.blockSize
	if aligned != info.Size() {
		corelog.Warning(fmt.Sprintf("logstore: truncating partial trailing block in %s (%d -> %d bytes), data loss possible", w.currentPath(), info.Size(), aligned))
		if err := w.file.Truncate(aligned); err != nil {
			w.releaseLock()
			return err
		}
	}
	w.flushedBytes = aligned

	if w.flushedBytes >= w.blockSize*w.blocksPerFile {
		// Current file is already at capacity; start the next one.
		w.fileNum++
		w.file.Close()
		if err := w.openCurrentFileForWrite(true); err != nil {
			w.releaseLock()
			return err
		}
	} else if _, err := w.file.Seek(w.flushedBytes, os.SEEK_SET); err != nil {
		w.releaseLock()
		return err
	}

	return nil
}

func (w *Writer) currentPath() string {
	name := fileName(w.base, w.blockSize, w.fileNum)
	if w.temporary {
		return filepath.Join(w.dir, "temp", filepath.Base(name))
	}
	return name
}

func (w *Writer) openCurrentFileForWrite(truncate bool) error {
	flags := os.O_RDWR | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(w.currentPath(), flags, 0o644)
	if err != nil {
		return fmt.Errorf("logstore: open %s: %w", w.currentPath(), err)
	}
	w.file = f
	w.flushedBytes = 0
	return nil
}

func (w *Writer) acquireLock() error {
	w.lockPath = lockFileName(w.base)

	if data, err := os.ReadFile(w.lockPath); err == nil {
		if pid, perr := strconv.Atoi(string(data)); perr == nil && processAlive(pid) {
			return fmt.Errorf("logstore: lock held by live pid %d (%s)", pid, w.lockPath)
		}
		corelog.Warning("logstore: reclaiming stale lock file " + w.lockPath)
	}

	f, err := os.OpenFile(w.lockPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("logstore: create lock file: %w", err)
	}
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		f.Close()
		return err
	}
	w.lockFile = f
	return nil
}

func (w *Writer) releaseLock() {
	if w.lockFile != nil {
		w.lockFile.Close()
		w.lockFile = nil
	}
	os.Remove(w.lockPath)
}

// WriteRecord appends a record. It may be split across the block and file
// boundary transparently.
func (w *Writer) WriteRecord(payload []byte) error {
	if w.closed {
		return fmt.Errorf("logstore: writer closed")
	}
	frame := encodeRecord(payload, w.deflate)
	w.recordOffsets = append(w.recordOffsets, int64(len(w.pending)))
	w.pending = append(w.pending, frame...)
	return w.flushFullBlocks()
}

// flushFullBlocks writes out every complete block_size chunk currently
// buffered, rolling over to a new file as needed, and advances the
// bookkeeping used by Tell().
func (w *Writer) flushFullBlocks() error {
	for int64(len(w.pending)) >= w.blockSize {
		spaceInFile := w.blockSize*w.blocksPerFile - w.flushedBytes
		if spaceInFile <= 0 {
			if err := w.rollOver(); err != nil {
				return err
			}
			continue
		}

		// Flush exactly one block at a time, capped by remaining file
		// capacity (always itself a multiple of block_size).
		n := w.blockSize

		if _, err := w.file.Write(w.pending[:n]); err != nil {
			return fmt.Errorf("logstore: write: %w", err)
		}
		w.flushedBytes += n
		w.pending = w.pending[n:]

		kept := w.recordOffsets[:0]
		for _, off := range w.recordOffsets {
			if off >= n {
				kept = append(kept, off-n)
			}
		}
		w.recordOffsets = kept

		if w.flushedBytes >= w.blockSize*w.blocksPerFile {
			if err := w.rollOver(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) rollOver() error {
	if err := w.file.Sync(); err != nil {
		return err
	}
	if err := w.finalizeCurrentFile(); err != nil {
		return err
	}
	w.fileNum++
	return w.openCurrentFileForWrite(true)
}

// finalizeCurrentFile closes the current file and, if staging in temp/,
// moves it to its final location.
func (w *Writer) finalizeCurrentFile() error {
	path := w.file.Name()
	if err := w.file.Close(); err != nil {
		return err
	}
	if w.temporary {
		final := fileName(w.base, w.blockSize, w.fileNum)
		if err := os.Rename(path, final); err != nil {
			return fmt.Errorf("logstore: finalize %s: %w", path, err)
		}
	}
	return nil
}

// Flush pads any partial block to the block boundary and flushes it to
// disk; it rolls over to the next file only when that padded block fills
// the current one. After Flush, file.position() is block aligned (§4.3
// invariant) but the file is not finalized — more records may still be
// written.
func (w *Writer) Flush() error {
	if len(w.pending) > 0 {
		pad := w.blockSize - int64(len(w.pending))%w.blockSize
		if pad != w.blockSize {
			w.pending = append(w.pending, make([]byte, pad)...)
		}
		if err := w.flushFullBlocks(); err != nil {
			return err
		}
	}
	return w.file.Sync()
}

// Tell returns the position of the next record to be written.
func (w *Writer) Tell() Pos {
	return Pos{
		FileNum:   w.fileNum,
		BlockNum:  w.flushedBytes / w.blockSize,
		RecordNum: int64(len(w.recordOffsets)),
	}
}

// Close finalizes content: pads and flushes the partial block, renames
// the file out of temp/ if applicable, and releases the lock file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.Flush(); err != nil {
		w.releaseLock()
		return err
	}
	if err := w.finalizeCurrentFile(); err != nil {
		w.releaseLock()
		return err
	}
	w.releaseLock()
	return nil
}
