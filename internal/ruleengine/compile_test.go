package ruleengine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_DropsActionlessRules(t *testing.T) {
	table := Compile([]RawRule{
		{Conditions: []RawCondition{{Key: "level", Type: ConditionExact, Value: "INFO"}}},
	})
	assert.Empty(t, table.Groups)
}

func TestCompile_DropsConditionlessRules(t *testing.T) {
	table := Compile([]RawRule{
		{Stdout: true},
	})
	assert.Empty(t, table.Groups)
}

func TestCompile_SingleConditionForcesAnyMatch(t *testing.T) {
	table := Compile([]RawRule{
		{Conditions: []RawCondition{{Key: "level", Type: ConditionExact, Value: "INFO"}}, Pipelines: []string{"p1"}},
	})
	require.Len(t, table.Groups, 1)
	require.Len(t, table.Groups[0].Clauses, 1)
	assert.True(t, table.Groups[0].Clauses[0].AnyMatch)
}

func TestCompile_DedupesSharedActions(t *testing.T) {
	table := Compile([]RawRule{
		{Conditions: []RawCondition{{Key: "level", Type: ConditionExact, Value: "INFO"}}, Pipelines: []string{"p1"}},
		{Conditions: []RawCondition{{Key: "level", Type: ConditionExact, Value: "INFO"}}, Pipelines: []string{"p1"}},
	})
	require.Len(t, table.Groups, 1, "identical actions should collapse into one group")
	assert.Len(t, table.Groups[0].Clauses[0].Conditions, 1, "duplicate conditions should collapse")
}

func TestLoadOrCompile_CachesToDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules", "default.yml"), []byte(`
- conditions:
    - key: level
      type: exact
      value: ERROR
  stdout: true
  pipelines: [p1]
`), 0o644))

	cachePath := filepath.Join(dir, ".rules.resolved.json")
	table, err := LoadOrCompile(dir, cachePath)
	require.NoError(t, err)
	require.Len(t, table.Groups, 1)

	_, statErr := os.Stat(cachePath)
	require.NoError(t, statErr)

	cached, err := LoadOrCompile(dir, cachePath)
	require.NoError(t, err)
	assert.Equal(t, table, cached)
}
