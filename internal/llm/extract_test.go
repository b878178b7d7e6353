package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		language string
		want     string
	}{
		{
			name:     "single python fence",
			reply:    "Here you go:\n```python\nimport pandas as pd\nprint(1)\n```\nDone.",
			language: "python",
			want:     "import pandas as pd\nprint(1)",
		},
		{
			name:     "py alias and unlabelled fence are joined",
			reply:    "```py\nx = 1\n```\ntext\n```\nprint(x)\n```",
			language: "python",
			want:     "x = 1\n\nprint(x)",
		},
		{
			name:     "other language skipped",
			reply:    "```bash\npip install statsmodels\n```\n```python\nimport statsmodels\n```",
			language: "python",
			want:     "import statsmodels",
		},
		{
			name:     "go fence",
			reply:    "```golang\nfmt.Println(1)\n```",
			language: "go",
			want:     "fmt.Println(1)",
		},
		{
			name:     "no fence taken verbatim",
			reply:    "  print(2)  \n",
			language: "python",
			want:     "print(2)",
		},
		{
			name:     "empty fence",
			reply:    "```python\n\n```",
			language: "python",
			want:     "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.reply, tt.language))
		})
	}
}

func TestParseCritique(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    Critique
		wantErr bool
	}{
		{"json accept", `{"decision": "accept"}`, Critique{Decision: DecisionAccept}, false},
		{"json revise embedded", "Sure.\n{\"decision\": \"Revise\", \"guidance\": \"add {state} fixed effects\"}\n", Critique{Decision: DecisionRevise, Guidance: "add {state} fixed effects"}, false},
		{"keyword accept", "ACCEPT - looks fine", Critique{Decision: DecisionAccept}, false},
		{"keyword revise", "REVISE: cluster by county", Critique{Decision: DecisionRevise, Guidance: "cluster by county"}, false},
		{"revise without guidance", `{"decision": "revise"}`, Critique{}, true},
		{"gibberish", "maybe?", Critique{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCritique(tt.reply)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrEmptyResponse))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseProposals(t *testing.T) {
	props, err := ParseProposals("```json\n[{\"title\": \"Event study\", \"text\": \"leads and lags\"}, {\"title\": \"\", \"text\": \"\"}]\n```")
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, "Event study", props[0].Title)

	props, err = ParseProposals("1. Heterogeneity: split by gender\n2) Placebo test on pre-period\n- **Bounds**: Lee bounds")
	require.NoError(t, err)
	require.Len(t, props, 3)
	assert.Equal(t, "Heterogeneity", props[0].Title)
	assert.Equal(t, "Placebo test on pre-period", props[1].Text)
	assert.Equal(t, "Bounds", props[2].Title)

	_, err = ParseProposals("nothing useful")
	assert.True(t, errors.Is(err, ErrEmptyResponse))
}

func TestFirstJSON(t *testing.T) {
	got, ok := firstJSON(`x {"a": "}", "b": {"c": 1}} y`, '{', '}')
	require.True(t, ok)
	assert.Equal(t, `{"a": "}", "b": {"c": 1}}`, got)

	_, ok = firstJSON(`{"unterminated": 1`, '{', '}')
	assert.False(t, ok)
}
