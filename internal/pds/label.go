// Package pds reads PDS3 product labels and converts raw PDS images.
package pds

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Label is a parsed PDS3 (PVL/ODL) label. Keys inside OBJECT or GROUP
// blocks are qualified with the block names, e.g. "IMAGE.LINES".
type Label struct {
	Keys   []string // in label order
	Values map[string]string
}

// Get returns the value stored under the exact (qualified) key.
func (l *Label) Get(key string) (string, bool) {
	v, ok := l.Values[key]
	return v, ok
}

// Find returns the value of the first key, in label order, that equals name
// or ends in "."+name.
func (l *Label) Find(name string) (string, bool) {
	suffix := "." + name
	for _, k := range l.Keys {
		if k == name || strings.HasSuffix(k, suffix) {
			return l.Values[k], true
		}
	}
	return "", false
}

// Int parses the value of Find(name) as an integer, ignoring a trailing
// unit such as "<BYTES>".
func (l *Label) Int(name string) (int, error) {
	v, ok := l.Find(name)
	if !ok {
		return 0, fmt.Errorf("label has no %s", name)
	}
	n, err := strconv.Atoi(strings.TrimSpace(stripUnit(v)))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

// stripUnit removes a trailing "<UNIT>" from a value.
func stripUnit(v string) string {
	if i := strings.IndexByte(v, '<'); i >= 0 && strings.HasSuffix(v, ">") {
		return strings.TrimSpace(v[:i])
	}
	return v
}

// ParseLabel parses label text up to the END statement. It is a pure
// function of its input.
func ParseLabel(data []byte) (*Label, error) {
	l := &Label{Values: make(map[string]string)}
	var stack []string

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(stripComment(lines[i]))
		if line == "" {
			continue
		}
		if line == "END" {
			return l, nil
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected KEY = VALUE, got %q", i+1, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// Multi-line quoted strings and lists continue until balanced.
		for !balanced(value) && i+1 < len(lines) {
			i++
			value += " " + strings.TrimSpace(stripComment(lines[i]))
		}
		if !balanced(value) {
			return nil, fmt.Errorf("line %d: unterminated value for %s", i+1, key)
		}

		switch key {
		case "OBJECT", "GROUP":
			stack = append(stack, unquote(value))
			continue
		case "END_OBJECT", "END_GROUP":
			if len(stack) == 0 {
				return nil, fmt.Errorf("line %d: %s without matching block", i+1, key)
			}
			stack = stack[:len(stack)-1]
			continue
		}

		full := key
		if len(stack) > 0 {
			full = strings.Join(stack, ".") + "." + key
		}
		if _, dup := l.Values[full]; !dup {
			l.Keys = append(l.Keys, full)
		}
		l.Values[full] = unquote(collapseSpace(value))
	}
	return l, nil
}

// stripComment drops a /* ... */ comment that is not inside quotes.
func stripComment(s string) string {
	inQuote := false
	for i := 0; i+1 < len(s); i++ {
		switch {
		case s[i] == '"':
			inQuote = !inQuote
		case !inQuote && s[i] == '/' && s[i+1] == '*':
			if end := strings.Index(s[i+2:], "*/"); end >= 0 {
				return s[:i] + stripComment(s[i+2+end+2:])
			}
			return s[:i]
		}
	}
	return s
}

// balanced reports whether quotes, parentheses and braces are closed.
func balanced(v string) bool {
	depth, inQuote := 0, false
	for _, r := range v {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '(' || r == '{':
			depth++
		case r == ')' || r == '}':
			depth--
		}
	}
	return !inQuote && depth <= 0
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}

// maxLabelBytes bounds how much of a file is scanned for the END statement.
const maxLabelBytes = 1 << 20

// ReadLabel reads and parses the label at the start of a PDS file (.IMG
// with an attached label or a detached .LBL). Image data after END is not
// read.
func ReadLabel(path string) (*Label, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	br := bufio.NewReader(io.LimitReader(f, maxLabelBytes))
	for {
		line, err := br.ReadBytes('\n')
		buf.Write(line)
		if strings.TrimSpace(stripComment(string(line))) == "END" {
			break
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading label %s: %w", path, err)
		}
	}

	l, err := ParseLabel(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("parsing label %s: %w", path, err)
	}
	return l, nil
}
