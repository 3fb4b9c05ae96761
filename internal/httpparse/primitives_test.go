package httpparse

import "testing"

func TestParseCommentPositive(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"(Some simple comment)12345", 20},
		{"((()))", 5},
		{`(\n\n)`, 5},
		{"(\\t\t long     comment (\\\\))", 26},
		{"()", 1},
	}
	for _, c := range cases {
		got, err := ParseComment([]byte(c.in))
		if err != nil {
			t.Fatalf("ParseComment(%q): unexpected error %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ParseComment(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseCommentNegative(t *testing.T) {
	cases := []struct {
		in      string
		wantErr string
	}{
		{"", "passed comment line is empty, expected at least ()"},
		{"(", "passed comment line is empty, expected at least ()"},
		{"g()", "passed line does not starts with open parenthesis ("},
		{" ()", "passed line does not starts with open parenthesis ("},
		{"(\n)", "unexpected control sequence inside a comment"},
		{"(\r)", "unexpected control sequence inside a comment"},
		{"(()", "unexpected end of line, expected )"},
		{"(Some pretty valid comment \t ()", "unexpected end of line, expected )"},
	}
	for _, c := range cases {
		_, err := ParseComment([]byte(c.in))
		if err == nil {
			t.Fatalf("ParseComment(%q): expected error, got none", c.in)
		}
		if err.Error() != c.wantErr {
			t.Errorf("ParseComment(%q) error = %q, want %q", c.in, err.Error(), c.wantErr)
		}
	}
}

func TestParseHeader(t *testing.T) {
	cases := []struct {
		in        string
		wantName  string
		wantValue string
	}{
		{"Accept-Encoding:    gzip, deflate", "Accept-Encoding", "gzip, deflate"},
		{"Referer:", "Referer", ""},
		{"Referer:         ", "Referer", ""},
	}
	for _, c := range cases {
		name, value, err := ParseHeader([]byte(c.in))
		if err != nil {
			t.Fatalf("ParseHeader(%q): unexpected error %v", c.in, err)
		}
		if name != c.wantName || value != c.wantValue {
			t.Errorf("ParseHeader(%q) = (%q, %q), want (%q, %q)", c.in, name, value, c.wantName, c.wantValue)
		}
	}
}

func TestParseTokenEmpty(t *testing.T) {
	if _, err := ParseToken(nil); err == nil {
		t.Fatal("expected error on empty token")
	}
}

func TestParseURIEmpty(t *testing.T) {
	if _, err := ParseURI(nil); err == nil {
		t.Fatal("expected error on empty uri")
	}
}

// Every parser, on a non-empty accepting input, returns an index within
// bounds of the input.
func TestParserIndexInvariant(t *testing.T) {
	inputs := []string{"GET", "a-b_c~d", "/path/to/thing"}
	for _, in := range inputs {
		if idx, err := ParseToken([]byte(in)); err == nil && (idx < 0 || idx >= len(in)) {
			t.Errorf("ParseToken(%q) index %d out of bounds", in, idx)
		}
		if idx, err := ParseURI([]byte(in)); err == nil && (idx < 0 || idx >= len(in)) {
			t.Errorf("ParseURI(%q) index %d out of bounds", in, idx)
		}
	}
}
