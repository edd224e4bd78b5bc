package logstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// fileNameSuffixWidth is the fixed width of "_<10 digits>_<10 digits>"
// appended to base: 1 + 10 + 1 + 10 = 22 characters (SPEC_FULL.md §9,
// resolving the "DetectLogSettings hard-codes a 22-character suffix" open
// question against the encoding fixed in spec.md §6.1).
const fileNameSuffixWidth = 22

var fileNameRE = regexp.MustCompile(`^(.*)_(\d{10})_(\d{10})$`)

// fileName returns "<base>_<blockSize:10d>_<fileNum:10d>" (§6.1).
func fileName(base string, blockSize int64, fileNum int64) string {
	return fmt.Sprintf("%s_%010d_%010d", base, blockSize, fileNum)
}

// lockFileName returns "<base>.lock".
func lockFileName(base string) string {
	return base + ".lock"
}

// ParseLogFileName extracts (blockSize, fileNum) from a full log file
// name, or ok=false if it doesn't match the fixed-width encoding. The base
// name prefix is not returned.
func ParseLogFileName(name string) (blockSize int64, fileNum int64, ok bool) {
	if len(name) <= fileNameSuffixWidth {
		return 0, 0, false
	}
	m := fileNameRE.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	bs, err1 := strconv.ParseInt(m[2], 10, 64)
	fn, err2 := strconv.ParseInt(m[3], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return bs, fn, true
}

// existingFileNums lists, in ascending order, every file_num present in
// dir for the given base and block size.
func existingFileNums(dir, base string, blockSize int64) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	baseName := filepath.Base(base)
	var nums []int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		bs, fn, ok := ParseLogFileName(e.Name())
		if !ok || bs != blockSize {
			continue
		}
		prefix := fileNameRE.FindStringSubmatch(e.Name())[1]
		if prefix != baseName {
			continue
		}
		nums = append(nums, fn)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums, nil
}
