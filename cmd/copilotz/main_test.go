package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const definition = `
name: support
tools:
  - name: echo
    spec_type: short-schema
    source: native:echo
    schema: {message: "string!"}
workflows:
  - name: signup
    steps:
      - {name: collect, next: done}
      - {name: done}
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeDefinition(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "copilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(definition), 0o644))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "copilotz version "))
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", "--config", writeDefinition(t))
	require.NoError(t, err)
	assert.Contains(t, out, `Copilot "support" is valid`)
	assert.Contains(t, out, "1 workflows")

	_, err = execute(t, "validate", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSpecsCommand(t *testing.T) {
	out, err := execute(t, "specs", "--config", writeDefinition(t))
	require.NoError(t, err)
	assert.Contains(t, out, "echo(")
}

func TestGraphCommand(t *testing.T) {
	path := writeDefinition(t)

	out, err := execute(t, "graph", "signup", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "%% workflow: signup")
	assert.Contains(t, out, "collect --> done")

	_, err = execute(t, "graph", "missing", "--config", path)
	assert.Error(t, err)
}
