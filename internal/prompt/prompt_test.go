package prompt

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	assert.Nil(t, Detect(&buf, &buf))

	f, err := os.Create(filepath.Join(t.TempDir(), "tty"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	assert.Nil(t, Detect(f, f), "regular files are not terminals")
	assert.Nil(t, Detect(nil, nil))
}
