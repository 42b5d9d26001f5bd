package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCountedTypeString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "two types",
			input: "Symmetric Key (128) Secret Data (4)",
			want:  []string{"Symmetric Key", "128", "Secret Data", "4"},
		},
		{
			name:  "single type",
			input: "Symmetric Key (3)",
			want:  []string{"Symmetric Key", "3"},
		},
		{
			name:  "odd trailing element is dropped",
			input: "a,b,c",
			want:  []string{"a", "b"},
		},
		{
			name:  "empty",
			input: "",
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCountedTypeString(tt.input)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.Equal(t, tt.want[i], got[i])
			}
		})
	}
}

func TestPairsToMapping(t *testing.T) {
	got := PairsToMapping([]string{" Symmetric Key ", "128 ", "Secret Data", " 4"})
	assert.Equal(t, map[string]string{"Symmetric Key": "128", "Secret Data": "4"}, got)

	assert.Equal(t, map[string]string{"k": "v"}, PairsToMapping([]string{"k", "v", "dangling"}))
	assert.Empty(t, PairsToMapping(nil))
}
