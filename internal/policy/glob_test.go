package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchGlob(t *testing.T) {
	cases := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"**", "anything/goes", true},
		{"write_*", "write_file", true},
		{"write_*", "read_file", false},
		{"repo/**", "repo/a/b/read", true},
		{"repo/**", "repo", false},
		{"repo/*", "repo/read", true},
		{"repo/*", "repo/a/b", false},
		{"repo/*", "other/read", false},
		{"exact_tool", "exact_tool", true},
		{"exact_tool", "exact_tool_2", false},
		{"*_suffix", "a_suffix", true},
		{"*_suffix", "a_suffix_b", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, matchGlob(tc.pattern, tc.name), "matchGlob(%q, %q)", tc.pattern, tc.name)
	}
}

func TestMatchAnyChecksSkillToken(t *testing.T) {
	require.True(t, matchAny([]string{"skill:summarize"}, "some_tool", "skill:summarize"))
	require.False(t, matchAny([]string{"skill:summarize"}, "some_tool", "skill:other"))
	require.True(t, matchAny([]string{"some_tool"}, "some_tool", ""))
}
