package sink

import (
	"bytes"
	"fmt"
	"os"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
)

const tailChunk = 4096

// CompletedID returns the id of a successful record. Placeholder rows carry
// an error and report false, so a later success for the same id is written.
func CompletedID(record crawler.Record) (string, bool) {
	id := record.Get(crawler.FieldID)
	if id == "" || record.Get(crawler.FieldError) != "" {
		return "", false
	}
	return id, true
}

// TrimTornTail truncates f back to its last newline when the final line was
// cut short by a crash, and returns the resulting size.
func TrimTornTail(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", f.Name(), err)
	}
	size := info.Size()
	buf := make([]byte, tailChunk)
	for end := size; end > 0; {
		start := max(end-tailChunk, 0)
		chunk := buf[:end-start]
		if n, err := f.ReadAt(chunk, start); n < len(chunk) {
			return 0, fmt.Errorf("read %s: %w", f.Name(), err)
		}
		if end == size && chunk[len(chunk)-1] == '\n' {
			return size, nil
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			return truncate(f, start+int64(i)+1)
		}
		end = start
	}
	if size == 0 {
		return 0, nil
	}
	return truncate(f, 0)
}

func truncate(f *os.File, size int64) (int64, error) {
	if err := f.Truncate(size); err != nil {
		return 0, fmt.Errorf("truncate torn line in %s: %w", f.Name(), err)
	}
	return size, nil
}
