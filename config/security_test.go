package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPath(t *testing.T) {
	tests := []struct {
		path string
		ok   bool
	}{
		{"weave.yaml", true},
		{"configs/weave.yml", true},
		{"/etc/weave/weave.json", true},
		{"", false},
		{"weave.toml", false},
		{"../weave.yaml", false},
		{"configs/../../weave.yaml", false},
		{strings.Repeat("a", maxPathLen) + ".json", false},
	}
	for _, tt := range tests {
		err := checkPath(tt.path)
		assert.Equal(t, tt.ok, err == nil, "path %.40q: %v", tt.path, err)
	}
}

func TestReadConfigFile(t *testing.T) {
	dir := t.TempDir()

	big := filepath.Join(dir, "big.json")
	require.NoError(t, os.WriteFile(big, make([]byte, maxConfigSize+1), 0600))
	_, err := readConfigFile(big)
	assert.ErrorContains(t, err, "larger than")

	sub := filepath.Join(dir, "sub.yaml")
	require.NoError(t, os.Mkdir(sub, 0700))
	_, err = readConfigFile(sub)
	assert.ErrorContains(t, err, "not a regular file")
}

func TestCheckJSONDepth(t *testing.T) {
	assert.NoError(t, checkJSONDepth([]byte(`{"a": [1, {"b": "}]"}]}`)))
	assert.NoError(t, checkJSONDepth([]byte(strings.Repeat("[", maxJSONDepth)+strings.Repeat("]", maxJSONDepth))))
	assert.Error(t, checkJSONDepth([]byte(strings.Repeat("[", maxJSONDepth+1)+strings.Repeat("]", maxJSONDepth+1))))
	assert.Error(t, checkJSONDepth([]byte(`{"a": `)))
}

func TestCheckEnvValue(t *testing.T) {
	assert.NoError(t, checkEnvValue("K", "value"))
	assert.Error(t, checkEnvValue("K", "a\x00b"))
	assert.Error(t, checkEnvValue("K", strings.Repeat("x", maxEnvVarLen+1)))
}
