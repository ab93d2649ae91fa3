//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func buildBinary(t *testing.T) string {
	t.Helper()
	binary := filepath.Join(t.TempDir(), "txsentry")
	cmd := exec.Command("go", "build", "-o", binary, "../../cmd/txsentry")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=1")
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "failed to build binary: %s", string(output))
	return binary
}

func runCmd(t *testing.T, binary, workDir string, args ...string) string {
	t.Helper()
	cmd := exec.Command(binary, args...)
	cmd.Dir = workDir
	cmd.Env = os.Environ()

	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	require.NoError(t, err, "command '%s %s' failed: %s%s", binary, strings.Join(args, " "), string(out), stderr.String())
	return string(out)
}

// runCmdExpectError runs a command that exits non-zero on purpose (check
// returns a non-zero exit for BLOCK and REFUSE verdicts) and returns its
// combined output.
func runCmdExpectError(t *testing.T, binary, workDir string, args ...string) string {
	t.Helper()
	cmd := exec.Command(binary, args...)
	cmd.Dir = workDir
	cmd.Env = os.Environ()
	out, _ := cmd.CombinedOutput()
	return string(out)
}
