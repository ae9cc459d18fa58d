package commands_test

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accountsCSV "github.com/cleared-dev/tally/internal/accounts"
)

var binaryPath string

func TestMain(m *testing.M) {
	// Build the binary once for all tests.
	tmpDir, err := os.MkdirTemp("", "tally-test-*")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(tmpDir)

	binaryPath = filepath.Join(tmpDir, "tally")
	cmd := exec.Command("go", "build", "-o", binaryPath, "../../cmd/tally")
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		panic("failed to build binary: " + err.Error())
	}

	os.Exit(m.Run())
}

func runTally(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command(binaryPath, args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

func TestInit_CreatesStructure(t *testing.T) {
	dir := t.TempDir()
	_, err := runTally(t, "init", dir, "--name", "Test Household")
	require.NoError(t, err)

	expectedDirs := []string{
		"accounts",
		"rules",
		"ledger",
		"logs",
		"import",
		filepath.Join("import", "processed"),
		".tally",
	}
	for _, d := range expectedDirs {
		info, err := os.Stat(filepath.Join(dir, d))
		require.NoError(t, err, "directory %s should exist", d)
		assert.True(t, info.IsDir(), "%s should be a directory", d)
	}
}

func TestInit_Config(t *testing.T) {
	dir := t.TempDir()
	_, err := runTally(t, "init", dir, "--name", "My Household")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "tally.yaml"))
	require.NoError(t, err)
	contents := string(data)

	assert.Contains(t, contents, "name: My Household")
	assert.Contains(t, contents, "currency: INR")
	assert.Contains(t, contents, "show_file_warnings: true")
}

func TestInit_Accounts(t *testing.T) {
	dir := t.TempDir()
	_, err := runTally(t, "init", dir, "--name", "Test Household", "--bank", "HDFC Bank")
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(dir, "accounts", "bank-accounts.csv"))
	require.NoError(t, err)
	defer f.Close()

	accts, err := accountsCSV.ReadAccounts(f)
	require.NoError(t, err)
	require.Len(t, accts, 1)
	assert.Equal(t, "HDFC Bank", accts[0].Bank)
}

func TestInit_RuleFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := runTally(t, "init", dir, "--name", "Test Household")
	require.NoError(t, err)

	for _, name := range []string{"category-rules.yaml", "sip-rules.yaml"} {
		data, err := os.ReadFile(filepath.Join(dir, "rules", name))
		require.NoError(t, err)
		assert.Equal(t, "rules: []\n", string(data), name)
	}
	data, err := os.ReadFile(filepath.Join(dir, "rules", "recurring.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "recurring: []\n", string(data))
}

func TestInit_GitRepo(t *testing.T) {
	dir := t.TempDir()
	_, err := runTally(t, "init", dir, "--name", "Test Household")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, ".git"))
	require.NoError(t, err, ".git should exist")

	log := exec.Command("git", "log", "--format=%s", "-1")
	log.Dir = dir
	out, err := log.Output()
	require.NoError(t, err)
	assert.Contains(t, string(out), "init:")

	authorLog := exec.Command("git", "log", "--format=%an <%ae>", "-1")
	authorLog.Dir = dir
	out, err = authorLog.Output()
	require.NoError(t, err)
	assert.Contains(t, string(out), "Tally <tally@localhost>")
}

func TestInit_Gitignore(t *testing.T) {
	dir := t.TempDir()
	_, err := runTally(t, "init", dir, "--name", "Test Household")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	for _, pattern := range []string{".tally/", ".env", "import/*"} {
		assert.Contains(t, string(data), pattern)
	}
}

func TestInit_RequiresName(t *testing.T) {
	_, err := runTally(t, "init", t.TempDir())
	require.Error(t, err, "init without --name should fail")
}

func TestInit_RefusesExistingWorkspace(t *testing.T) {
	dir := t.TempDir()
	_, err := runTally(t, "init", dir, "--name", "Test Household")
	require.NoError(t, err)

	out, err := runTally(t, "init", dir, "--name", "Again")
	require.Error(t, err)
	assert.Contains(t, out, "already contains tally.yaml")
}
