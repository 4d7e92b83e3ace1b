package evidence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyLabelsWin(t *testing.T) {
	require.Equal(t, WorkTypeBug, Classify([]string{"Bug"}, "feat: add batching", false))
	require.Equal(t, WorkTypeFeature, Classify([]string{"enhancement"}, "", false))
	require.Equal(t, WorkTypeDocs, Classify([]string{"documentation"}, "fix: typo", false))
	require.Equal(t, WorkTypeChore, Classify([]string{"dependencies"}, "", false))
}

func TestClassifyPrefixes(t *testing.T) {
	cases := []struct {
		text string
		want WorkType
	}{
		{"fix: crash on empty payload", WorkTypeBug},
		{"Fix(ingest): handle nil checkpoint", WorkTypeBug},
		{"feat: per-project noise filters", WorkTypeFeature},
		{"feat(api)!: breaking change", WorkTypeOther}, // bang form not matched
		{"docs: document the report window", WorkTypeDocs},
		{"chore(deps): bump go-github", WorkTypeChore},
		{"ci: cache the module proxy", WorkTypeChore},
		{"Merge pull request #42", WorkTypeOther},
		{"fixture loading for tests", WorkTypeOther},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Classify(nil, tc.text, false), "text %q", tc.text)
	}
}

func TestClassifyMultilineUsesFirstLine(t *testing.T) {
	message := "refresh dependencies\n\nfix: unrelated trailer"
	require.Equal(t, WorkTypeOther, Classify(nil, message, false))
}

func TestClassifyDocsPathFallback(t *testing.T) {
	require.Equal(t, WorkTypeDocs, Classify(nil, "update the getting started guide", true))
	require.Equal(t, WorkTypeBug, Classify(nil, "fix: broken anchor", true)) // prefix wins over path
	require.Equal(t, WorkTypeOther, Classify(nil, "update the getting started guide", false))
}
