package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	c, err := Parse([]byte(`
entry = "fact"
step_limit = 10
validation = "all"
`))
	require.NoError(t, err)

	assert.Equal(t, "fact", c.Entry)
	assert.Equal(t, 10, c.StepLimit)
	assert.Equal(t, ValidateAll, c.Validation)
	assert.True(t, c.Validation.Assignments())

	def := Default()
	assert.Equal(t, def.MaxStackDepth, c.MaxStackDepth)
	assert.Equal(t, def.PointerSize, c.PointerSize)
	assert.True(t, c.CheckLeaks)
}

func TestParseZeroLimits(t *testing.T) {
	c, err := Parse([]byte(`
max_stack_depth = 0
step_limit = 0
max_alloc_size = 0
pointer_size = 0
`))
	require.NoError(t, err)

	assert.Equal(t, 0, c.MaxStackDepth)
	assert.Equal(t, 0, c.StepLimit)
	assert.Equal(t, 8, c.PointerSize)
}

func TestParseErrors(t *testing.T) {
	for _, text := range []string{
		`validation = "sometimes"`,
		`pointer_size = 3`,
		`step_limit = -1`,
		`unknown_key = 1`,
		`entry = `,
	} {
		_, err := Parse([]byte(text))
		assert.Error(t, err, text)
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "a", "b")

	require.NoError(t, os.MkdirAll(sub, 0o755))

	c, err := FindAndLoad(sub)
	require.NoError(t, err)
	assert.Nil(t, c)

	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("check_alignment = false\n"), 0o644))

	c, err = FindAndLoad(sub)
	require.NoError(t, err)
	require.NotNil(t, c)

	assert.False(t, c.CheckAlignment)
	assert.Equal(t, root, c.Dir)
}
