package faq

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntries(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Entry
		wantErr bool
	}{
		{
			name:  "bare list",
			input: `[{"questions":["Q1","Q1b"],"answer":"A1"}]`,
			want:  []Entry{{Questions: []string{"Q1", "Q1b"}, Answer: "A1"}},
		},
		{
			name:  "faqs wrapper",
			input: `{"faqs":[{"questions":["Q1"],"answer":"A1"}]}`,
			want:  []Entry{{Questions: []string{"Q1"}, Answer: "A1"}},
		},
		{
			name:  "first value of other object",
			input: `{"items":[{"questions":["Q1"],"answer":"A1"}],"extra":[]}`,
			want:  []Entry{{Questions: []string{"Q1"}, Answer: "A1"}},
		},
		{
			name:  "empty object",
			input: `{}`,
			want:  []Entry{},
		},
		{
			name: "drops unusable entries",
			input: `[
				{"questions":[],"answer":"orphan"},
				{"questions":["  ", "Real question "],"answer":" kept "},
				{"questions":["No answer"],"answer":"  "}
			]`,
			want: []Entry{{Questions: []string{"Real question"}, Answer: "kept"}},
		},
		{name: "not json", input: `hello`, wantErr: true},
		{name: "empty", input: `   `, wantErr: true},
		{name: "wrong shape", input: `{"faqs":"nope"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseEntries([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFiles_SourceRoundTrip(t *testing.T) {
	files := NewFiles(t.TempDir())

	_, _, err := files.ReadSource("acme")
	assert.ErrorIs(t, err, ErrNoSource)
	_, err = files.StatSource("acme")
	assert.ErrorIs(t, err, ErrNoSource)

	require.NoError(t, files.WriteSource("acme", hoursEntries))
	assert.NoFileExists(t, files.SourcePath("acme")+".tmp")

	got, modTime, err := files.ReadSource("acme")
	require.NoError(t, err)
	assert.Equal(t, hoursEntries, got)
	assert.False(t, modTime.IsZero())
}

func TestFiles_InvalidSource(t *testing.T) {
	files := NewFiles(t.TempDir())
	require.NoError(t, os.MkdirAll(files.TenantDir("acme"), 0o755))
	require.NoError(t, os.WriteFile(files.SourcePath("acme"), []byte("{broken"), 0o644))

	_, _, err := files.ReadSource("acme")
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestEntry_Anchor(t *testing.T) {
	assert.Equal(t, "first", Entry{Questions: []string{"first", "second"}}.Anchor())
	assert.Empty(t, Entry{}.Anchor())
}
