package util

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"BRAIN MRI", "BRAIN MRI"},
		{"T2/FLAIR: axial", "T2_FLAIR_ axial"},
		{`a\b*c?d"e<f>g|h`, "a_b_c_d_e_f_g_h"},
		{"  padded  ", "padded"},
		{"", "unknown"},
		{"   ", "unknown"},
	}

	for _, tc := range tests {
		result := SanitizeName(tc.input)
		if result != tc.expected {
			t.Errorf("SanitizeName(%q) = %q, want %q", tc.input, result, tc.expected)
		}
	}
}

func TestSanitizeName_Truncates(t *testing.T) {
	long := strings.Repeat("x", 80)
	result := SanitizeName(long)
	if len(result) != 50 {
		t.Errorf("SanitizeName(80 chars) has length %d, want 50", len(result))
	}
}

func TestSanitizeName_TruncatesOnRuneBoundary(t *testing.T) {
	// 49 ASCII characters then multibyte runes across the cutoff
	long := strings.Repeat("x", 49) + strings.Repeat("é", 10)
	result := SanitizeName(long)
	if !utf8.ValidString(result) {
		t.Fatalf("SanitizeName produced invalid UTF-8: %q", result)
	}
	if n := utf8.RuneCountInString(result); n != 50 {
		t.Errorf("SanitizeName rune count = %d, want 50", n)
	}
	if !strings.HasSuffix(result, "é") {
		t.Errorf("SanitizeName(%q) = %q, want a whole é at the cutoff", long, result)
	}
}

func TestFormatStudyDate(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"20240115", "2024-01-15"},
		{"1999", "1999"},
		{"", ""},
		{"not-a-date", "not-a-date"},
	}

	for _, tc := range tests {
		result := FormatStudyDate(tc.input)
		if result != tc.expected {
			t.Errorf("FormatStudyDate(%q) = %q, want %q", tc.input, result, tc.expected)
		}
	}
}

func TestStudyDateISO(t *testing.T) {
	if got := StudyDateISO("20240115"); got != "2024-01-15T00:00:00" {
		t.Errorf("StudyDateISO(20240115) = %q", got)
	}
	if got := StudyDateISO("bad"); got != "bad" {
		t.Errorf("StudyDateISO(bad) = %q", got)
	}
}

func TestShortStudyID(t *testing.T) {
	id := ShortStudyID("1.2.840.113619.2.5.1762583153.215519.978957063.78")
	if len(id) != 12 {
		t.Errorf("ShortStudyID length = %d, want 12", len(id))
	}
	if id != ShortStudyID("1.2.840.113619.2.5.1762583153.215519.978957063.78") {
		t.Error("ShortStudyID should be deterministic")
	}
	if id == ShortStudyID("1.2.3") {
		t.Error("different UIDs should map to different IDs")
	}
	for _, c := range id {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("ShortStudyID contains non-hex character %q", c)
		}
	}
}
