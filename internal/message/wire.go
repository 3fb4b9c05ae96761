package message

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rustyproxy/rustyproxy/internal/httpparse"
)

// EncodeRequest renders r to its HTTP/1.1 wire form: request line,
// headers (Cookie re-synthesized from r.Cookies), blank line, body.
func EncodeRequest(r Request) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", r.Method, r.URI())
	r.Headers.Each(func(key, value string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", key, value)
	})
	if len(r.Cookies) > 0 {
		buf.WriteString("Cookie: ")
		buf.WriteString(encodeCookies(r.Cookies))
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(r.Body.Encode())
	return buf.Bytes()
}

func encodeCookies(cookies map[string]string) string {
	// Map iteration order is not stable; callers round-tripping a single
	// Request only need the reparsed Cookies map to be equal, not byte
	// identical, so any deterministic-enough rendering is sufficient here.
	parts := make([]string, 0, len(cookies))
	for name, value := range cookies {
		parts = append(parts, name+"="+value)
	}
	return strings.Join(parts, "; ")
}

// DecodeRequest parses raw wire bytes (request line + headers + blank
// line + body) back into a Request. isHTTPS is supplied by the caller
// since it isn't observable from the bytes themselves.
func DecodeRequest(raw []byte, isHTTPS bool) (Request, error) {
	reader := bufio.NewReader(bytes.NewReader(raw))

	lineBytes, err := readCRLFLine(reader)
	if err != nil {
		return Request{}, err
	}
	rl, err := httpparse.ParseRequestLine(append(lineBytes, '\r', '\n'))
	if err != nil {
		return Request{}, err
	}

	headerPairs, err := readHeaderPairs(reader)
	if err != nil {
		return Request{}, err
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return Request{}, err
	}

	contentType := ""
	for _, kv := range headerPairs {
		if strings.EqualFold(kv[0], "Content-Type") {
			contentType = kv[1]
			break
		}
	}

	return NewRequest(isHTTPS, rl.Method, rl.URI, headerPairs, NewBodyFromContentType(contentType, body)), nil
}

func readCRLFLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

func readHeaderPairs(r *bufio.Reader) ([][2]string, error) {
	var pairs [][2]string
	for {
		line, err := readCRLFLine(r)
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			return pairs, nil
		}
		name, value, err := httpparse.ParseHeader(line)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, [2]string{name, value})
	}
}

// EncodeResponse renders resp to its HTTP/1.1 wire form.
func EncodeResponse(resp Response) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", resp.Code, resp.Message)
	resp.Headers.Each(func(key, value string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", key, value)
	})
	buf.WriteString("\r\n")
	buf.Write(resp.Body.Encode())
	return buf.Bytes()
}

// DecodeResponse parses a raw HTTP/1.1 response.
func DecodeResponse(raw []byte) (Response, error) {
	reader := bufio.NewReader(bytes.NewReader(raw))

	statusLine, err := readCRLFLine(reader)
	if err != nil {
		return Response{}, err
	}
	code, message, err := parseStatusLine(statusLine)
	if err != nil {
		return Response{}, err
	}

	headerPairs, err := readHeaderPairs(reader)
	if err != nil {
		return Response{}, err
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return Response{}, err
	}

	contentType := ""
	for _, kv := range headerPairs {
		if strings.EqualFold(kv[0], "Content-Type") {
			contentType = kv[1]
			break
		}
	}

	return NewResponse(code, message, headerPairs, NewBodyFromContentType(contentType, body)), nil
}

func parseStatusLine(line []byte) (code int, message string, err error) {
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) < 2 {
		return 0, "", fmt.Errorf("malformed status line %q", line)
	}
	code, err = strconv.Atoi(string(parts[1]))
	if err != nil {
		return 0, "", fmt.Errorf("malformed status code in %q: %w", line, err)
	}
	if len(parts) == 3 {
		message = string(parts[2])
	}
	return code, message, nil
}
