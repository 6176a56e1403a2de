package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatSplitID(t *testing.T) {
	tests := []struct {
		source string
		index  int
		want   string
	}{
		{"txn123", 0, "txn123_0"},
		{"txn123", 2, "txn123_2"},
		{"abc", 10, "abc_10"},
		{"a_b", 1, "a_b_1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSplitID(tt.source, tt.index))
	}
}

func TestFormatSplitID_DistinctWithinSource(t *testing.T) {
	seen := map[string]bool{"txn_1": true}
	for i := 0; i < 12; i++ {
		got := FormatSplitID("txn_1", i)
		assert.False(t, seen[got], "duplicate id %s", got)
		seen[got] = true
	}
}
