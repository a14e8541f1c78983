package pds

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleLabel = `PDS_VERSION_ID = PDS3
FILE_NAME = "P01_001472_1747_XI_05S146W.IMG"
RECORD_TYPE = FIXED_LENGTH
RECORD_BYTES = 5056
FILE_RECORDS = 7169
LABEL_RECORDS = 1
^IMAGE = 2
SPACECRAFT_NAME = MARS_RECONNAISSANCE_ORBITER
INSTRUMENT_NAME = "CONTEXT CAMERA"
TARGET_NAME = MARS /* primary target */
MISSION_PHASE_NAME = "PRIMARY MAPPING"
PRODUCT_ID = "P01_001472_1747_XI_05S146W"
START_TIME = 2006-11-19T08:57:32.640
STOP_TIME = 2006-11-19T08:57:51.220
DESCRIPTION = "A long description
    spanning several lines = with an equals sign."
SOURCE_PRODUCT_ID = ("A",
    "B")
OBJECT = IMAGE
  LINES = 7168
  LINE_SAMPLES = 5056
  SAMPLE_TYPE = UNSIGNED_INTEGER
  SAMPLE_BITS = 8
  OFFSET = 0.0 <DN>
  GROUP = INSTRUMENT_STATE
    LINES = 3
  END_GROUP = INSTRUMENT_STATE
END_OBJECT = IMAGE
END
IGNORED = AFTER_END
`

func TestParseLabel(t *testing.T) {
	l, err := ParseLabel([]byte(sampleLabel))
	if err != nil {
		t.Fatalf("ParseLabel: %v", err)
	}

	tests := []struct {
		key, want string
	}{
		{"PDS_VERSION_ID", "PDS3"},
		{"FILE_NAME", "P01_001472_1747_XI_05S146W.IMG"},
		{"^IMAGE", "2"},
		{"TARGET_NAME", "MARS"},
		{"INSTRUMENT_NAME", "CONTEXT CAMERA"},
		{"DESCRIPTION", "A long description spanning several lines = with an equals sign."},
		{"SOURCE_PRODUCT_ID", `("A", "B")`},
		{"IMAGE.LINES", "7168"},
		{"IMAGE.SAMPLE_TYPE", "UNSIGNED_INTEGER"},
		{"IMAGE.OFFSET", "0.0 <DN>"},
		{"IMAGE.INSTRUMENT_STATE.LINES", "3"},
	}
	for _, tt := range tests {
		got, ok := l.Get(tt.key)
		if !ok {
			t.Errorf("missing key %s", tt.key)
			continue
		}
		if got != tt.want {
			t.Errorf("%s = %q, want %q", tt.key, got, tt.want)
		}
	}

	if _, ok := l.Get("IGNORED"); ok {
		t.Error("keys after END must not be parsed")
	}
	if l.Keys[0] != "PDS_VERSION_ID" {
		t.Errorf("first key = %s, want label order", l.Keys[0])
	}
}

func TestFindAndInt(t *testing.T) {
	l, err := ParseLabel([]byte(sampleLabel))
	if err != nil {
		t.Fatal(err)
	}
	// First match in label order wins over the nested group.
	if v, _ := l.Find("LINES"); v != "7168" {
		t.Errorf("Find(LINES) = %s, want 7168", v)
	}
	n, err := l.Int("RECORD_BYTES")
	if err != nil || n != 5056 {
		t.Errorf("Int(RECORD_BYTES) = %d, %v", n, err)
	}
	if _, err := l.Int("NOPE"); err == nil {
		t.Error("Int of missing key should fail")
	}
	if _, err := l.Int("TARGET_NAME"); err == nil {
		t.Error("Int of non-numeric value should fail")
	}
}

func TestParseLabelErrors(t *testing.T) {
	tests := []struct {
		name, in string
	}{
		{"no equals", "JUST TEXT\nEND\n"},
		{"unbalanced end", "END_OBJECT = IMAGE\nEND\n"},
		{"unterminated quote", "A = \"open\nB = 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseLabel([]byte(tt.in)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestStripComment(t *testing.T) {
	tests := []struct{ in, want string }{
		{"A = 1 /* c */", "A = 1 "},
		{`A = "/* kept */"`, `A = "/* kept */"`},
		{"/* all */", ""},
		{"A = 1 /* x */ /* y */", "A = 1  "},
	}
	for _, tt := range tests {
		if got := stripComment(tt.in); got != tt.want {
			t.Errorf("stripComment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReadLabelStopsAtEnd(t *testing.T) {
	p := filepath.Join(t.TempDir(), "X.IMG")
	data := append([]byte(sampleLabel), make([]byte, 4096)...)
	data = append(data, []byte("\xff\xfe = garbage")...)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := ReadLabel(p)
	if err != nil {
		t.Fatalf("ReadLabel: %v", err)
	}
	if v, _ := l.Find("PRODUCT_ID"); !strings.HasPrefix(v, "P01_") {
		t.Errorf("PRODUCT_ID = %q", v)
	}
}
