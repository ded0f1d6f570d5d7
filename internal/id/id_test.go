package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDocumentNumber(t *testing.T) {
	tests := []struct {
		prefix, sep string
		seq         int64
		padding     int
		want        string
	}{
		{"JV-FY2025", "-", 1, 5, "JV-FY2025-00001"},
		{"INV", "/", 42, 4, "INV/0042"},
		{"FY2025", "-", 123456, 5, "FY2025-123456"},
		{"", "-", 7, 3, "007"},
	}
	for _, tt := range tests {
		got := FormatDocumentNumber(tt.prefix, tt.sep, tt.seq, tt.padding)
		assert.Equal(t, tt.want, got)
	}
}

func TestJoinPrefix(t *testing.T) {
	assert.Equal(t, "JV-FY2025", JoinPrefix("-", "JV", "FY2025"))
	assert.Equal(t, "FY2025", JoinPrefix("-", "", "FY2025"))
	assert.Equal(t, "JV", JoinPrefix("-", "JV", ""))
	assert.Equal(t, "", JoinPrefix("-"))
}

func TestParseDocumentNumber(t *testing.T) {
	tests := []struct {
		input      string
		sep        string
		wantPrefix string
		wantSeq    int64
	}{
		{"JV-FY2025-00001", "-", "JV-FY2025", 1},
		{"INV/0042", "/", "INV", 42},
		{"007", "-", "", 7},
	}
	for _, tt := range tests {
		prefix, seq, err := ParseDocumentNumber(tt.input, tt.sep)
		require.NoError(t, err, "input: %s", tt.input)
		assert.Equal(t, tt.wantPrefix, prefix)
		assert.Equal(t, tt.wantSeq, seq)
	}
}

func TestParseDocumentNumber_Errors(t *testing.T) {
	badInputs := []string{
		"",
		"JV-",
		"JV-abc",
		"JV-00000",
	}
	for _, input := range badInputs {
		_, _, err := ParseDocumentNumber(input, "-")
		assert.Error(t, err, "expected error for input: %s", input)
	}
}

func TestFormatRoundTrip(t *testing.T) {
	number := FormatDocumentNumber(JoinPrefix("-", "PAY", "FY2024"), "-", 99, 5)
	prefix, seq, err := ParseDocumentNumber(number, "-")
	require.NoError(t, err)
	assert.Equal(t, "PAY-FY2024", prefix)
	assert.Equal(t, int64(99), seq)
}

func TestChildCodes(t *testing.T) {
	assert.Equal(t, "1000.01", FormatChildCode("1000", 1))
	assert.Equal(t, "1000.01.99", FormatChildCode("1000.01", 99))

	n, ok := ChildSuffix("1000", "1000.07")
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	for _, code := range []string{"1000.07.01", "2000.07", "1000.7", "1000.00", "1000"} {
		_, ok := ChildSuffix("1000", code)
		assert.False(t, ok, "code %s", code)
	}
}
