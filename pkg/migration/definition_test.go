package migration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSequence(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   int64
		wantOK bool
	}{
		{"underscore delimiter", "001_init.sql", 1, true},
		{"larger number", "0921_another_file.sql", 921, true},
		{"timestamp prefix", "20240101120000_add_users.sql", 20240101120000, true},
		{"dash delimiter", "12-add-index.sql", 12, true},
		{"dot delimiter", "7.sql", 7, true},
		{"digits only", "42", 42, true},
		{"zero", "000_bootstrap.sql", 0, true},
		{"path is ignored", "migrations/003_x.sql", 3, true},
		{"no numeric prefix", "foo.sql", 0, false},
		{"letter before digits", "v1_init.sql", 0, false},
		{"digits run into letters", "1a_init.sql", 0, false},
		{"empty", "", 0, false},
		{"overflow", "99999999999999999999_big.sql", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseSequence(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewDefinition(t *testing.T) {
	def, ok := NewDefinition("002_add_email.sql", "ALTER TABLE users ADD COLUMN email TEXT;")
	require.True(t, ok)
	assert.Equal(t, int64(2), def.Sequence)
	assert.Equal(t, "002_add_email.sql", def.Name)
	assert.False(t, def.NoTransaction)

	_, ok = NewDefinition("README.sql", "SELECT 1;")
	assert.False(t, ok)
}

func TestNoTransactionDirective(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{
			name: "directive on first line",
			body: "-- strata:no-transaction\nCREATE INDEX CONCURRENTLY idx ON t (a);",
			want: true,
		},
		{
			name: "directive after other comments and blank lines",
			body: "\n-- add index without locking writes\n\n--   strata:no-transaction  \nCREATE INDEX CONCURRENTLY idx ON t (a);",
			want: true,
		},
		{
			name: "directive after first statement is ignored",
			body: "CREATE TABLE t (a int);\n-- strata:no-transaction\n",
			want: false,
		},
		{
			name: "no directive",
			body: "-- plain migration\nCREATE TABLE t (a int);",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasNoTransactionDirective(tt.body))
		})
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		input   string
		want    *Range
		wantErr bool
	}{
		{input: "", want: nil},
		{input: "5", want: &Range{Min: 5, Max: 5}},
		{input: "3-7", want: &Range{Min: 3, Max: 7}},
		{input: "3..7", want: &Range{Min: 3, Max: 7}},
		{input: "3:7", want: &Range{Min: 3, Max: 7}},
		{input: " 3 - 7 ", want: &Range{Min: 3, Max: 7}},
		{input: "3-", want: &Range{Min: 3, Max: math.MaxInt64}},
		{input: "-7", want: &Range{Min: 0, Max: 7}},
		{input: "7-3", wantErr: true},
		{input: "-", wantErr: true},
		{input: "a-b", wantErr: true},
		{input: "five", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRange(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsConfigurationInvalidErr(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRangeContains(t *testing.T) {
	var all *Range
	assert.True(t, all.Contains(0))
	assert.True(t, all.Contains(math.MaxInt64))

	r := &Range{Min: 5, Max: 5}
	assert.False(t, r.Contains(4))
	assert.True(t, r.Contains(5))
	assert.False(t, r.Contains(6))
}

func TestRangeString(t *testing.T) {
	var all *Range
	assert.Equal(t, "all", all.String())
	assert.Equal(t, "5", (&Range{Min: 5, Max: 5}).String())
	assert.Equal(t, "3-7", (&Range{Min: 3, Max: 7}).String())
	assert.Equal(t, "3-", (&Range{Min: 3, Max: math.MaxInt64}).String())
}
