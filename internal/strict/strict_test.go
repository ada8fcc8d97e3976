package strict

import (
	stderrors "errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/mend/internal/errors"
)

type result struct {
	Row []string
	Err error
}

func collect(t *testing.T, input string, opts Options) []result {
	t.Helper()
	var out []result
	for row, err := range Stream(strings.NewReader(input), opts) {
		out = append(out, result{Row: row, Err: err})
	}
	return out
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{"plain", "a,b,c", []string{"a", "b", "c"}},
		{"empty line", "", []string{""}},
		{"trailing delimiter", "a,", []string{"a", ""}},
		{"quoted delimiter", `"a,b",c`, []string{"a,b", "c"}},
		{"doubled quote", `"say ""hi""",x`, []string{`say "hi"`, "x"}},
		{"empty quoted", `"",x`, []string{"", "x"}},
		{"quote mid field", `5" screen,x`, []string{"5 screen,x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.line, ',', '"')
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Tokenize(%q) mismatch (-want +got):\n%s", tt.line, diff)
			}
		})
	}
}

func TestTokenize_OtherDialect(t *testing.T) {
	got := Tokenize(`'a;b';c`, ';', '\'')
	assert.Equal(t, []string{"a;b", "c"}, got)
}

func TestStream_WellFormed(t *testing.T) {
	got := collect(t, "a,b,c\n1,2,3\n4,5,6", Options{Delimiter: ',', Quote: '"'})

	want := []result{
		{Row: []string{"a", "b", "c"}},
		{Row: []string{"1", "2", "3"}},
		{Row: []string{"4", "5", "6"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Stream mismatch (-want +got):\n%s", diff)
	}
}

func TestStream_CRLF(t *testing.T) {
	got := collect(t, "a,b\r\n1,2\r\n", Options{Delimiter: ',', Quote: '"'})

	require.Len(t, got, 2)
	assert.Equal(t, []string{"a", "b"}, got[0].Row)
	assert.Equal(t, []string{"1", "2"}, got[1].Row)
}

func TestStream_AbsorbsExcessFields(t *testing.T) {
	opts := Options{Delimiter: ',', Quote: '"', Columns: 3, AbsorbColumn: 2}
	got := collect(t, "a,b,c\n1,2,3\n4,5,6,7,8,9", opts)

	want := []result{
		{Row: []string{"a", "b", "c"}},
		{Row: []string{"1", "2", "3"}},
		{Row: []string{"4", "5", "6,7,8,9"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Stream mismatch (-want +got):\n%s", diff)
	}
}

func TestStream_NotEnoughColumnsContinues(t *testing.T) {
	opts := Options{Delimiter: ',', Quote: '"', Columns: 3, AbsorbColumn: 2}
	got := collect(t, "a,b,c\n1,2,3\n4,5\n10,11,12", opts)

	require.Len(t, got, 4)
	assert.Equal(t, []string{"a", "b", "c"}, got[0].Row)
	assert.Equal(t, []string{"1", "2", "3"}, got[1].Row)

	require.Error(t, got[2].Err)
	mErr, ok := errors.As(got[2].Err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrInvalid, mErr.Code)
	assert.Equal(t, errors.Position{Line: 2, Column: 3}, *mErr.Position)
	assert.Equal(t, MsgNotEnoughColumns, mErr.Message)

	assert.NoError(t, got[3].Err)
	assert.Equal(t, []string{"10", "11", "12"}, got[3].Row)
}

func TestRepair_MiddleColumn(t *testing.T) {
	row, err := Repair(0, []string{"1", "a", "b", "c", "9"}, ',', 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "a,b,c", "9"}, row)
}

func TestRepair_FirstColumn(t *testing.T) {
	row, err := Repair(0, []string{"x", "y", "z"}, ';', 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"x;y", "z"}, row)
}

func TestStream_StopsWhenConsumerStops(t *testing.T) {
	n := 0
	for range Stream(strings.NewReader("a\nb\nc\n"), Options{Delimiter: ',', Quote: '"'}) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestStream_IOError(t *testing.T) {
	var got []error
	for _, err := range Stream(failingReader{}, Options{Delimiter: ',', Quote: '"'}) {
		got = append(got, err)
	}

	require.Len(t, got, 1)
	assert.True(t, errors.Is(got[0], errors.ErrIO))
	assert.True(t, stderrors.Is(got[0], io.ErrUnexpectedEOF))
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"ok", Options{Delimiter: ',', Quote: '"'}, false},
		{"ok with repair", Options{Delimiter: ',', Quote: '"', Columns: 3, AbsorbColumn: 2}, false},
		{"same bytes", Options{Delimiter: ',', Quote: ','}, true},
		{"newline delimiter", Options{Delimiter: '\n', Quote: '"'}, true},
		{"absorb out of range", Options{Delimiter: ',', Quote: '"', Columns: 3, AbsorbColumn: 3}, true},
		{"negative columns", Options{Delimiter: ',', Quote: '"', Columns: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
