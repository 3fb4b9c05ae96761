// Package httpparse implements byte-level RFC 7230 recognizers: comments,
// tokens, URIs, header fields and request lines. Every function is a pure
// function over an immutable byte slice; none of them allocate beyond what
// the caller asked for, and none of them panic on malformed input.
package httpparse

import (
	"errors"
	"net/textproto"
)

const separators = "()<>@,;:\\\"/[]?={} \t"

const charMax = 127

func isLinearWhitespace(b byte) bool {
	return b == '\t' || b == ' '
}

func isSeparator(b byte) bool {
	for i := 0; i < len(separators); i++ {
		if separators[i] == b {
			return true
		}
	}
	return false
}

func isControl(b byte) bool {
	return b < 0x20 || b == 0x7f
}

func isPartOfText(b byte) bool {
	return !isControl(b) || isLinearWhitespace(b)
}

func isPartOfToken(b byte) bool {
	return b < 0x80 && !isControl(b) && !isSeparator(b)
}

func isPartOfURI(b byte) bool {
	return b < 0x80 && !isControl(b) && !isLinearWhitespace(b)
}

// ParseComment recognizes `"(" *(ctext | quoted-pair | comment) ")"` and
// returns the inclusive index of the matching close paren. A backslash
// escapes any following octet <= 127; escaped bytes never count toward
// paren balance.
func ParseComment(line []byte) (int, error) {
	if len(line) < 2 {
		return 0, errors.New("passed comment line is empty, expected at least ()")
	}
	if line[0] != '(' {
		return 0, errors.New("passed line does not starts with open parenthesis (")
	}

	parens := 0
	skipNext := false
	for idx, b := range line {
		if skipNext {
			skipNext = false
			if b <= charMax {
				continue
			}
		}

		switch b {
		case '(':
			parens++
		case ')':
			parens--
			if parens == 0 {
				return idx, nil
			}
		case '\\':
			skipNext = true
		default:
			if !isPartOfText(b) {
				return 0, errors.New("unexpected control sequence inside a comment")
			}
		}
	}
	return 0, errors.New("unexpected end of line, expected )")
}

// ParseToken returns the last index still inside a token. Does not skip
// leading whitespace.
func ParseToken(line []byte) (int, error) {
	if len(line) == 0 {
		return 0, errors.New("empty token")
	}
	for idx, b := range line {
		if !isPartOfToken(b) {
			if idx == 0 {
				return 0, errors.New("empty token")
			}
			return idx - 1, nil
		}
	}
	return len(line) - 1, nil
}

// ParseURI returns the last index still inside a URI.
func ParseURI(line []byte) (int, error) {
	if len(line) == 0 {
		return 0, errors.New("empty uri")
	}
	for idx, b := range line {
		if !isPartOfURI(b) {
			if idx < 1 {
				return 0, errors.New("empty uri")
			}
			return idx - 1, nil
		}
	}
	return len(line) - 1, nil
}

// ParseHeader splits `field-name ":" [LWS] field-value`.
func ParseHeader(line []byte) (name, value string, err error) {
	nameEnd, err := ParseToken(line)
	if err != nil {
		return "", "", err
	}
	if nameEnd == len(line)-1 || line[nameEnd+1] != ':' {
		return "", "", errors.New("unexpected symbol or eol after field name, expected :")
	}

	headerName := textproto.CanonicalMIMEHeaderKey(string(line[:nameEnd+1]))
	if !validHeaderName(headerName) {
		return "", "", errors.New("failed to parse header name")
	}

	valueStart := nameEnd + 2
	for valueStart < len(line) && isLinearWhitespace(line[valueStart]) {
		valueStart++
	}

	headerValue := line[valueStart:]
	if !validHeaderValue(headerValue) {
		return "", "", errors.New("failed to parse header value")
	}

	return headerName, string(headerValue), nil
}

func validHeaderName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isPartOfToken(s[i]) {
			return false
		}
	}
	return true
}

func validHeaderValue(v []byte) bool {
	for _, b := range v {
		if b == 0 || b == '\r' || b == '\n' {
			return false
		}
	}
	return true
}
