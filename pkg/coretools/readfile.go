package coretools

import (
	"io"
	"os"
)

// readFile reads size bytes (all when negative) from seek, which counts
// from the end when negative. A non-negative limit truncates the text.
func readFile(path string, seek, size int64, limit int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	whence := io.SeekStart
	if seek < 0 {
		whence = io.SeekEnd
	}
	if _, err := f.Seek(seek, whence); err != nil {
		return "", err
	}

	var r io.Reader = f
	if size >= 0 {
		r = io.LimitReader(f, size)
	} else if limit >= 0 {
		// Read one byte past the limit so Truncate can tell the file was longer.
		r = io.LimitReader(f, int64(limit)+1)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return Truncate(safeDecode(data), limit), nil
}
