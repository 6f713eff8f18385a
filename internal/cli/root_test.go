package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegrep/internal/config"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// run invokes the command line against root and captures both streams
func run(t *testing.T, root string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"--root", root, "--workers", "1"}, args...)
	code := Run(context.Background(), BuildInfo{Version: "1.2.3", BuildTime: "today"}, args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_SearchMatch(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "a.py", "import os\n\nx = \"hello\"\n")

	code, stdout, _ := run(t, root, "hello")
	assert.Equal(t, ExitMatch, code)
	assert.True(t, strings.HasPrefix(stdout, "Found 1 references\n"), stdout)
	assert.Contains(t, stdout, path+" - 1 matches\n")
	assert.Contains(t, stdout, "3\tx = \"hello\"\n")

	// the index lives in the cache directory under the root
	_, err := os.Stat(filepath.Join(root, config.DefaultCacheDirName))
	assert.NoError(t, err)
}

func TestRun_SearchSubcommand(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "x = \"hello\"\n")

	code, stdout, _ := run(t, root, "search", "hello")
	assert.Equal(t, ExitMatch, code)
	assert.Contains(t, stdout, "Found 1 references")
}

func TestRun_NoMatch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "x = \"hello\"\n")

	code, stdout, stderr := run(t, root, "goodbye")
	assert.Equal(t, ExitNoMatch, code)
	assert.Contains(t, stdout, "Found 0 references")
	assert.Empty(t, stderr)
}

func TestRun_SeesEdits(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "x = \"hello\"\n")

	code, _, _ := run(t, root, "-q", "hello")
	require.Equal(t, ExitMatch, code)

	writeFile(t, root, "a.py", "x = \"goodbye\"\n")
	code, _, _ = run(t, root, "-q", "hello")
	assert.Equal(t, ExitNoMatch, code)
	code, _, _ = run(t, root, "-q", "goodbye")
	assert.Equal(t, ExitMatch, code)
}

func TestRun_OutputModes(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "a.py", "x = \"hello\"\ny = \"hello again\"\n")
	b := writeFile(t, root, "b.py", "z = \"hello\"\n")

	code, stdout, _ := run(t, root, "-l", "hello")
	assert.Equal(t, ExitMatch, code)
	assert.ElementsMatch(t, []string{a, b}, strings.Fields(stdout))

	code, stdout, _ = run(t, root, "-c", "hello")
	assert.Equal(t, ExitMatch, code)
	assert.Contains(t, stdout, "MATCHES")
	assert.Contains(t, stdout, "TOTAL FILES 2")

	code, stdout, stderr := run(t, root, "-q", "hello")
	assert.Equal(t, ExitMatch, code)
	assert.Empty(t, stdout)
	assert.Empty(t, stderr)
}

func TestRun_RegexAndKind(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "one/one.go", "package one\n\nfunc run() {}\n")
	writeFile(t, root, "two/two.go", "package two\n\nfunc runner() {}\n")

	code, stdout, _ := run(t, root, "-l", "-k", "function-decl", "-R", `identifier\.run\b`)
	assert.Equal(t, ExitMatch, code)
	assert.Equal(t, filepath.Join(root, "one", "one.go")+"\n", stdout)
}

func TestRun_KeyTerms(t *testing.T) {
	root := t.TempDir()
	one := writeFile(t, root, "one/one.go", "package one\n\nfunc run(n int) {}\n")
	writeFile(t, root, "two/two.go", "package two\n\nfunc runner(n int) {}\n")
	writeFile(t, root, "three/three.go", "package three\n\nfunc run(s string) {}\n")

	code, stdout, _ := run(t, root, "-l", "-k", "function-decl",
		"--key", "function_decl.identifier.run",
		"--key", "function_decl.signature.parameters.[0].parameter.type_.type_name.int")
	assert.Equal(t, ExitMatch, code)
	assert.Equal(t, one+"\n", stdout)

	// a pattern narrows the key terms further
	code, _, _ = run(t, root, "-q", "-k", "function-decl", "search", "--key", "function_decl.identifier.run", "string")
	assert.Equal(t, ExitMatch, code)
	code, _, _ = run(t, root, "-q", "-k", "function-decl", "--key", "function_decl.identifier.runner", "string")
	assert.Equal(t, ExitNoMatch, code)

	code, _, stderr := run(t, root, "search")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "--key")
}

func TestRun_Errors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "x = \"hello\"\n")

	tests := []struct {
		name string
		args []string
	}{
		{"regex and fuzzy", []string{"-R", "--fuzzy", "hello"}},
		{"invalid regex", []string{"-R", "hel(lo"}},
		{"unknown kind", []string{"-k", "closure", "hello"}},
		{"bad policy", []string{"--parse-failure-policy", "ignore", "hello"}},
		{"unknown flag", []string{"--no-such-flag", "hello"}},
		{"blank key", []string{"--key", " ", "hello"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := run(t, root, tt.args...)
			assert.Equal(t, ExitError, code)
			assert.NotEmpty(t, stderr)
		})
	}
}

func TestRun_MissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")

	code, _, stderr := run(t, root, "--cache-dir", t.TempDir(), "hello")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "codegrep")
}

func TestRun_SkipCache(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "x = \"hello\"\n")

	code, _, _ := run(t, root, "--skip-cache", "-q", "hello")
	assert.Equal(t, ExitMatch, code)

	// nothing was committed to the project cache
	_, err := os.Stat(filepath.Join(root, config.DefaultCacheDirName, "index.db"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_NoArgsPrintsHelp(t *testing.T) {
	code, stdout, _ := run(t, t.TempDir())
	assert.Equal(t, ExitMatch, code)
	assert.Contains(t, stdout, "codegrep [flags] PATTERN")
}

func TestRun_IndexStatusKeys(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "x = \"hello\"\n")
	writeFile(t, root, "main.go", "package main\n\nfunc main() {}\n")

	code, stdout, _ := run(t, root, "index")
	assert.Equal(t, ExitMatch, code)
	assert.Contains(t, stdout, "Indexed")

	code, stdout, _ = run(t, root, "status")
	assert.Equal(t, ExitMatch, code)
	assert.Contains(t, stdout, "Files")

	code, stdout, _ = run(t, root, "keys", "string_literal")
	assert.Equal(t, ExitMatch, code)
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		assert.True(t, strings.HasPrefix(line, "string_literal"), line)
	}

	code, _, _ = run(t, root, "keys", "no_such_prefix")
	assert.Equal(t, ExitNoMatch, code)
}

func TestRun_ConfigInit(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, config.FileName)

	code, stdout, _ := run(t, root, "config", "init")
	assert.Equal(t, ExitMatch, code)
	assert.Contains(t, stdout, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# codegrep configuration file")

	code, _, stderr := run(t, root, "config", "init")
	assert.Equal(t, ExitError, code)
	assert.NotEmpty(t, stderr)

	code, _, _ = run(t, root, "config", "init", "--force")
	assert.Equal(t, ExitMatch, code)
}

func TestRun_ConfigFileDefaults(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, root, config.FileName, "[search]\nkind = \"function-decl\"\n")

	code, _, _ := run(t, root, "-q", "-R", "main")
	assert.Equal(t, ExitMatch, code)
}

func TestRun_Version(t *testing.T) {
	code, stdout, _ := run(t, t.TempDir(), "version")
	assert.Equal(t, ExitMatch, code)
	assert.Contains(t, stdout, "1.2.3")
	assert.Contains(t, stdout, "today")
	assert.Contains(t, stdout, "sqlite driver")
	assert.Contains(t, stdout, "sqlite build")
	assert.Contains(t, stdout, "python grammar\t tree-sitter (cgo)")
}
