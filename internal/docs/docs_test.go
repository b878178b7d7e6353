package docs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pandasDoc = `# pandas.merge
Merge DataFrame objects with a database-style join. Use on= for key columns.

# KeyError on column access
A KeyError means the column label does not exist. Check df.columns for the exact name.
`

const statsDoc = `# statsmodels OLS
Use smf.ols(formula, data).fit(cov_type="cluster", cov_kwds={"groups": df["state"]}).

# PerfectSeparationError
Raised by logit when a regressor perfectly predicts the outcome.
`

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pandas.md"), []byte(pandasDoc), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sm"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sm", "statsmodels.txt"), []byte(statsDoc), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.bin"), []byte("KeyError"), 0644))

	idx, err := NewIndex(dir, 4000)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestIndex_LoadsSections(t *testing.T) {
	idx := newTestIndex(t)
	assert.Equal(t, 4, idx.Len())
}

func TestIndex_LookupRanksExceptionLine(t *testing.T) {
	idx := newTestIndex(t)
	trace := "Traceback (most recent call last):\n  File \"<cell>\", line 3, in <module>\nKeyError: 'log_wage'"

	got, err := idx.LookupDocs(context.Background(), trace)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.True(t, strings.HasPrefix(got, "### pandas.md > KeyError on column access"), got)
}

func TestIndex_LookupDottedName(t *testing.T) {
	idx := newTestIndex(t)
	got, err := idx.LookupDocs(context.Background(), "statsmodels.tools.sm_exceptions.PerfectSeparationError: Perfect separation detected")
	require.NoError(t, err)
	assert.Contains(t, got, "perfectly predicts")
}

func TestIndex_NoMatch(t *testing.T) {
	idx := newTestIndex(t)
	got, err := idx.LookupDocs(context.Background(), "zzz qqq")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIndex_ExcerptLimit(t *testing.T) {
	idx, err := NewIndex("", 40)
	require.NoError(t, err)
	defer idx.Close()
	require.NoError(t, idx.Add("big.md", "# ValueError\n"+strings.Repeat("ValueError explanation ", 20)))

	got, err := idx.LookupDocs(context.Background(), "ValueError: shapes not aligned")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got), 40)
	assert.NotEmpty(t, got)
}

func TestIndex_IdentifierWithUnderscore(t *testing.T) {
	idx, err := NewIndex("", 4000)
	require.NoError(t, err)
	defer idx.Close()
	require.NoError(t, idx.Add("vars.md", "# Wages\nlog_wage is the log of the hourly wage.\n\n# Hours\nweekly hours worked."))

	got, err := idx.LookupDocs(context.Background(), "NameError: name 'log_wage' is not defined")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "### vars.md > Wages"), got)
	assert.NotContains(t, got, "weekly hours")
}

func TestIndex_OperatorsInErrorText(t *testing.T) {
	idx := newTestIndex(t)
	got, err := idx.LookupDocs(context.Background(), `KeyError: "NEAR AND OR NOT" (col*)`)
	require.NoError(t, err)
	assert.Contains(t, got, "KeyError on column access")
}

func TestMatchQuery(t *testing.T) {
	assert.Equal(t, `"keyerror" OR "log_wage"`, matchQuery([]string{"keyerror", "log_wage"}))
	assert.Equal(t, `"a""b"`, matchQuery([]string{`a"b`}))
}

func TestTerms(t *testing.T) {
	got := terms("statsmodels.tools.PerfectSeparationError: the Perfect separation, perfect again")
	assert.Equal(t, []string{"statsmodels", "tools", "perfectseparationerror", "perfect", "separation", "again"}, got)
}

func TestIndex_CancelledContext(t *testing.T) {
	idx := newTestIndex(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := idx.LookupDocs(ctx, "KeyError")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNone(t *testing.T) {
	got, err := None{}.LookupDocs(context.Background(), "anything")
	assert.NoError(t, err)
	assert.Empty(t, got)
}
