package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyEquivalence(t *testing.T) {
	assert.Equal(t, Key("AA:BB:CC:DD"), Key("aabbccdd"))
	assert.Equal(t, Key("aabbccdd"), Key("AA-BB-CC-DD"))
	assert.Equal(t, Key("AA:BB:CC:DD"), Key("aa:bb-cc:dd"))
	assert.Equal(t, "AABBCCDD", Key(" aa:bb:cc:dd "))
	assert.True(t, Equal("11:22:33:44", "11223344"))
	assert.False(t, Equal("", ""))
}

func TestValid(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"AA:BB:CC:DD", true},
		{"aa-bb-cc-dd", true},
		{"aabbccdd", true},
		{"04A1B2C3D4E5F6", true},
		{"04a1b2c3d4e5", true},
		{"AA:BB-CC:DD", true},
		{"AA:BB:CC", false},
		{"AA::BB:CC:DD", false},
		{"AABBCC", false},
		{"AABBCCDDEE", false},
		{"04A1B2C3D4E5F6A7B8", false},
		{"ZZ:BB:CC:DD", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			assert.Equal(t, tt.want, Valid(tt.token))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "AA:BB:CC:DD", Normalize("aabbccdd"))
	assert.Equal(t, "AA-BB-CC-DD", Normalize("aa-bb-cc-dd"))
	assert.Equal(t, "04A1B2C3D4E5", Normalize("04a1b2c3d4e5"))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantValid   []string
		wantInvalid []string
	}{
		{
			name:        "empty input",
			input:       "",
			wantValid:   []string{},
			wantInvalid: []string{},
		},
		{
			name:        "whitespace only",
			input:       "  \n\t ; ,",
			wantValid:   []string{},
			wantInvalid: []string{},
		},
		{
			name:        "equivalent spellings collapse",
			input:       "AA:BB:CC:DD, aabbccdd\nAA-BB-CC-DD",
			wantValid:   []string{"AA:BB:CC:DD"},
			wantInvalid: []string{},
		},
		{
			name:        "first occurrence order kept",
			input:       "11223344 aabbccdd;11:22:33:44",
			wantValid:   []string{"11:22:33:44", "AA:BB:CC:DD"},
			wantInvalid: []string{},
		},
		{
			name:        "invalid tokens reported",
			input:       "hello, AABBCCDD xyz\r\n04a1b2c3d4e5f6",
			wantValid:   []string{"AA:BB:CC:DD", "04A1B2C3D4E5F6"},
			wantInvalid: []string{"hello", "xyz"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			assert.Equal(t, tt.wantValid, got.Valid)
			assert.Equal(t, tt.wantInvalid, got.Invalid)
		})
	}
}

func TestParseEmptyMeansAll(t *testing.T) {
	assert.True(t, Parse("").Empty())
	assert.False(t, Parse("nope").Empty())
}

func TestDedupe(t *testing.T) {
	got := Dedupe([]string{"aa:bb:cc:dd", "AABBCCDD", "", "11-22-33-44"})
	assert.Equal(t, []string{"aa:bb:cc:dd", "11-22-33-44"}, got)
}
