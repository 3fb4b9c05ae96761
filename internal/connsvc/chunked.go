package connsvc

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
)

// chunkedBodyReader decodes a client-sent chunked request body. It's the
// inbound-direction twin of upstream's chunked response reader: same
// wire format, opposite side of the exchange.
type chunkedBodyReader struct {
	r    *bufio.Reader
	rest []byte
	done bool
}

func newChunkedBodyReader(r *bufio.Reader) *chunkedBodyReader {
	return &chunkedBodyReader{r: r}
}

func (c *chunkedBodyReader) Read(p []byte) (int, error) {
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

func (c *chunkedBodyReader) nextChunk() error {
	sizeLine, err := readCRLFLine(c.r)
	if err != nil {
		return err
	}
	if idx := strings.IndexByte(string(sizeLine), ';'); idx >= 0 {
		sizeLine = sizeLine[:idx]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(string(sizeLine)), 16, 64)
	if err != nil {
		return errors.New("malformed chunk size")
	}
	if size == 0 {
		for {
			trailer, err := readCRLFLine(c.r)
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
	if _, err := readCRLFLine(c.r); err != nil {
		return err
	}
	c.rest = buf
	return nil
}
