package upstream

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
)

// chunkedReader decodes an HTTP/1.1 chunked transfer-coding body,
// stopping at the terminating zero-length chunk and consuming (but
// discarding) any trailer headers.
type chunkedReader struct {
	r    *bufio.Reader
	rest []byte
	done bool
}

func newChunkedReader(r *bufio.Reader) *chunkedReader {
	return &chunkedReader{r: r}
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.done {
		return 0, io.EOF
	}
	if len(c.rest) == 0 {
		if err := c.nextChunk(); err != nil {
			return 0, err
		}
		if c.done {
			return 0, io.EOF
		}
	}
	n := copy(p, c.rest)
	c.rest = c.rest[n:]
	return n, nil
}

func (c *chunkedReader) nextChunk() error {
	sizeLine, err := readLine(c.r)
	if err != nil {
		return err
	}
	sizeStr := sizeLine
	if idx := indexByte(sizeLine, ';'); idx >= 0 {
		sizeStr = sizeLine[:idx]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(string(sizeStr)), 16, 64)
	if err != nil {
		return errors.New("malformed chunk size")
	}
	if size == 0 {
		for {
			trailer, err := readLine(c.r)
			if err != nil {
				return err
			}
			if len(trailer) == 0 {
				break
			}
		}
		c.done = true
		return nil
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return err
	}
	// Consume the trailing CRLF after chunk data.
	if _, err := readLine(c.r); err != nil {
		return err
	}
	c.rest = buf
	return nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
