package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeBracketList(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]string
	}{
		{
			name:  "single attribute",
			input: "[[NAME x-NETAPP-NodeId] [INDEX 0] [TYPE Text] [VALUE node-1]]",
			want:  map[string]string{"x-NETAPP-NodeId": "node-1"},
		},
		{
			name:  "two attributes",
			input: "[[NAME a] [INDEX 0] [VALUE 1]] [[NAME b] [INDEX 0] [VALUE 2]]",
			want:  map[string]string{"a": "1", "b": "2"},
		},
		{
			name:  "value with inner spaces is trimmed at the edges",
			input: "[[NAME x-NETAPP-ClusterName] [VALUE  cluster one ]]",
			want:  map[string]string{"x-NETAPP-ClusterName": "cluster one"},
		},
		{
			name:  "name without value",
			input: "[[NAME a] [INDEX 0]]",
			want:  map[string]string{"a": ""},
		},
		{
			name:  "missing value does not steal the next one",
			input: "[[NAME a] [INDEX 0]] [[NAME b] [VALUE 2]]",
			want:  map[string]string{"a": "", "b": "2"},
		},
		{
			name:  "empty input",
			input: "",
			want:  map[string]string{},
		},
		{
			name:  "no markers",
			input: "[]",
			want:  map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeBracketList(tt.input))
		})
	}
}

func TestDecodeBracketPairs_PreservesOrder(t *testing.T) {
	got := DecodeBracketPairs("[[NAME z] [VALUE 26]] [[NAME a] [VALUE 1]] [[NAME m] [VALUE 13]]")

	assert.Equal(t, []Pair{
		{Name: "z", Value: "26"},
		{Name: "a", Value: "1"},
		{Name: "m", Value: "13"},
	}, got)
}

func TestDecodeBracketPairs_UnterminatedValue(t *testing.T) {
	got := DecodeBracketPairs("[[NAME a] [VALUE tail")

	assert.Equal(t, []Pair{{Name: "a", Value: "tail"}}, got)
}

func TestExtractBracketValue(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "indexed name", input: "[[INDEX 0] [TYPE Text] [VALUE secret-1]]", want: "secret-1"},
		{name: "first value wins", input: "[[VALUE a] [VALUE b]]", want: "a"},
		{name: "plain string", input: "plain", want: "plain"},
		{name: "bracketed without value", input: "[plain]", want: "plain"},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractBracketValue(tt.input))
		})
	}
}

func TestDigestHex(t *testing.T) {
	digest := "[[INDEX 0] [HASH SHA256] [VALUE xcc,x43,x0a,xff] [DIGESTED_KEY_FORMAT RAW]]"

	assert.Equal(t, "cc430aff", DigestHex(digest))
	assert.Empty(t, DigestHex(""))
}
