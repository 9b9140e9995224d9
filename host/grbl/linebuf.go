package grbl

import "bytes"

// lineBuffer is a circular byte buffer that hands out complete text lines.
// A line that would overflow the buffer is discarded up to its newline.
type lineBuffer struct {
	buf      []byte
	read     int
	write    int
	size     int
	overflow bool // dropping bytes until the next newline
}

func newLineBuffer(capacity int) *lineBuffer {
	return &lineBuffer{
		buf:  make([]byte, capacity),
		size: capacity,
	}
}

// Write appends data, returning the number of bytes stored
func (f *lineBuffer) Write(data []byte) int {
	written := 0
	for _, b := range data {
		if f.overflow {
			if b == '\n' {
				f.overflow = false
			}
			continue
		}

		nextWrite := (f.write + 1) % f.size
		if nextWrite == f.read {
			// Full without a newline in sight
			f.Reset()
			f.overflow = b != '\n'
			continue
		}
		f.buf[f.write] = b
		f.write = nextWrite
		written++
	}
	return written
}

// Available returns the number of bytes buffered
func (f *lineBuffer) Available() int {
	if f.write >= f.read {
		return f.write - f.read
	}
	return f.size - f.read + f.write
}

// Data returns buffered bytes as one contiguous slice
func (f *lineBuffer) Data() []byte {
	if f.read <= f.write {
		return f.buf[f.read:f.write]
	}
	result := make([]byte, f.Available())
	firstLen := f.size - f.read
	copy(result, f.buf[f.read:])
	copy(result[firstLen:], f.buf[:f.write])
	return result
}

// Pop removes n bytes from the front
func (f *lineBuffer) Pop(n int) {
	for i := 0; i < n && f.read != f.write; i++ {
		f.read = (f.read + 1) % f.size
	}
}

// Lines removes and returns every complete line, without line endings.
// Empty lines are skipped.
func (f *lineBuffer) Lines() []string {
	var lines []string
	data := f.Data()
	consumed := 0
	for {
		idx := bytes.IndexByte(data[consumed:], '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(data[consumed:consumed+idx], "\r")
		consumed += idx + 1
		if len(line) > 0 {
			lines = append(lines, string(line))
		}
	}
	f.Pop(consumed)
	return lines
}

// Reset clears the buffer
func (f *lineBuffer) Reset() {
	f.read = 0
	f.write = 0
	f.overflow = false
}
