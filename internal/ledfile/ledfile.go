// Package ledfile implements blinker.LEDWriter over a sysfs-style LED
// brightness attribute (spec.md §6, §9 "scoped LED file").
package ledfile

import (
	"fmt"
	"os"
)

// File is a scoped handle to an LED brightness file, opened once at
// task start and released on task end.
type File struct {
	f *os.File
}

// Open opens path (conventionally a symlink such as /tmp/exhale.led
// pointing at an LED brightness attribute) for writing.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("ledfile: open %s: %w", path, err)
	}
	return &File{f: f}, nil
}

// WriteState writes "1\n" for on or "0\n" for off, seeking to the start
// of the file first.
func (l *File) WriteState(on bool) error {
	if _, err := l.f.Seek(0, 0); err != nil {
		return fmt.Errorf("ledfile: seek: %w", err)
	}
	data := "0\n"
	if on {
		data = "1\n"
	}
	if _, err := l.f.WriteString(data); err != nil {
		return fmt.Errorf("ledfile: write: %w", err)
	}
	return nil
}

// Close releases the underlying file handle.
func (l *File) Close() error {
	return l.f.Close()
}
