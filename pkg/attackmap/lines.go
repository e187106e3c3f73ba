package attackmap

import (
	"bufio"
	"errors"
	"io"
)

// MaxLineLength is the longest snapshot or input line that is decoded.
const MaxLineLength = 4 * 1024 * 1024

// ErrLineTooLong is returned by LineReader.Next for a line over the limit. The
// line has been consumed, so the next call continues after it.
var ErrLineTooLong = errors.New("line too long")

// LineReader splits a stream on \n, \r\n or a bare \r. Unlike bufio.Scanner it
// survives an oversized line: that line is reported and skipped.
type LineReader struct {
	r      *bufio.Reader
	max    int
	buf    []byte
	skipLF bool
}

func NewLineReader(r io.Reader, max int) *LineReader {
	if max <= 0 {
		max = MaxLineLength
	}
	return &LineReader{r: bufio.NewReaderSize(r, 64*1024), max: max}
}

// Next returns the next line without its terminator. The slice is only valid
// until the following call. io.EOF marks a clean end of input; other errors come
// from the underlying reader.
func (l *LineReader) Next() ([]byte, error) {
	l.buf = l.buf[:0]
	tooLong := false
	for {
		c, err := l.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && (len(l.buf) > 0 || tooLong) {
				l.skipLF = false
				return l.line(tooLong)
			}
			return nil, err
		}
		if l.skipLF {
			l.skipLF = false
			if c == '\n' {
				continue
			}
		}
		switch c {
		case '\n':
			return l.line(tooLong)
		case '\r':
			l.skipLF = true
			return l.line(tooLong)
		}
		if len(l.buf) >= l.max {
			tooLong = true
			continue
		}
		l.buf = append(l.buf, c)
	}
}

func (l *LineReader) line(tooLong bool) ([]byte, error) {
	if tooLong {
		return nil, ErrLineTooLong
	}
	return l.buf, nil
}
