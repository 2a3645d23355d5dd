package install

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varietylab/varietyd"
)

// fakeRunner simulates npm by writing the file layout a successful install
// would produce, or failing as configured.
type fakeRunner struct {
	exitCode int
	runErr   error
	manifest string
	makeBin  bool

	calls [][]string
}

func (f *fakeRunner) Run(_ context.Context, dir, name string, args ...string) (int, []byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.runErr != nil {
		return 0, nil, f.runErr
	}
	if f.exitCode != 0 {
		return f.exitCode, []byte("npm ERR! simulated failure"), nil
	}

	// args: install --no-audit --no-fund <pkg>[@version]
	spec := args[len(args)-1]
	pkg := spec
	if at := lastVersionAt(spec); at > 0 {
		pkg = spec[:at]
	}
	pkgDir := filepath.Join(dir, "node_modules", filepath.FromSlash(pkg))
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		return 0, nil, err
	}
	if err := os.WriteFile(filepath.Join(pkgDir, "package.json"), []byte(f.manifest), 0o644); err != nil {
		return 0, nil, err
	}
	if err := os.WriteFile(filepath.Join(pkgDir, "index.js"), nil, 0o644); err != nil {
		return 0, nil, err
	}
	if f.makeBin {
		binDir := filepath.Join(dir, "node_modules", ".bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			return 0, nil, err
		}
		if err := os.WriteFile(filepath.Join(binDir, filepath.Base(pkg)), nil, 0o755); err != nil {
			return 0, nil, err
		}
	}
	return 0, nil, nil
}

// lastVersionAt finds the @ that separates name from version, skipping a
// scope's leading @.
func lastVersionAt(spec string) int {
	for i := len(spec) - 1; i > 0; i-- {
		if spec[i] == '@' {
			return i
		}
	}
	return -1
}

func newTestInstaller(t *testing.T, r Runner) *Installer {
	t.Helper()
	inst, err := New(t.TempDir(), WithRunner(r))
	require.NoError(t, err)
	return inst
}

func TestInstallRejectsBadPackageName(t *testing.T) {
	r := &fakeRunner{}
	inst := newTestInstaller(t, r)

	rec, err := inst.Install(context.Background(), "bad name; rm -rf /", "")
	require.Error(t, err)
	assert.Equal(t, varietyd.InstallStatusFailed, rec.Status)
	assert.Empty(t, r.calls, "runner must never see a rejected name")
}

func TestInstallRejectsVersionRange(t *testing.T) {
	r := &fakeRunner{}
	inst := newTestInstaller(t, r)

	rec, err := inst.Install(context.Background(), "pkg-ok", "^1.0.0")
	require.Error(t, err)
	assert.Equal(t, varietyd.InstallStatusFailed, rec.Status)
	assert.Empty(t, r.calls)
}

func TestInstallBinPath(t *testing.T) {
	r := &fakeRunner{manifest: `{"bin": "cli.js", "main": "index.js"}`, makeBin: true}
	inst := newTestInstaller(t, r)

	rec, err := inst.Install(context.Background(), "pkg-memory-server", "1.2.0")
	require.NoError(t, err)
	assert.Equal(t, varietyd.InstallStatusInstalled, rec.Status)
	assert.Equal(t, filepath.Join(rec.InstallDir, "node_modules", ".bin", "pkg-memory-server"), rec.BinPath)
	assert.Empty(t, rec.BinArgs)

	require.Len(t, r.calls, 1)
	assert.Equal(t, []string{"install", "--no-audit", "--no-fund", "pkg-memory-server@1.2.0"}, r.calls[0])
}

func TestInstallScopedPackage(t *testing.T) {
	r := &fakeRunner{manifest: `{"main": "index.js"}`}
	inst := newTestInstaller(t, r)

	rec, err := inst.Install(context.Background(), "@scope/pkg-tools", "")
	require.NoError(t, err)
	assert.Equal(t, "node", rec.BinPath)
	require.Len(t, rec.BinArgs, 1)
	assert.Equal(t, filepath.Join(rec.InstallDir, "node_modules", "@scope", "pkg-tools", "index.js"), rec.BinArgs[0])

	require.Len(t, r.calls, 1)
	assert.Equal(t, "@scope/pkg-tools", r.calls[0][len(r.calls[0])-1])
}

func TestInstallMainFallback(t *testing.T) {
	r := &fakeRunner{manifest: `{"main": "index.js"}`}
	inst := newTestInstaller(t, r)

	rec, err := inst.Install(context.Background(), "pkg-plain", "")
	require.NoError(t, err)
	assert.Equal(t, "node", rec.BinPath)
}

func TestInstallNothingRunnable(t *testing.T) {
	r := &fakeRunner{manifest: `{"name": "pkg-lib"}`}
	inst := newTestInstaller(t, r)

	rec, err := inst.Install(context.Background(), "pkg-lib", "")
	require.Error(t, err)
	assert.Equal(t, varietyd.InstallStatusFailed, rec.Status)
	assert.Contains(t, rec.FailureReason, "no bin or main")
}

func TestInstallNonzeroExit(t *testing.T) {
	r := &fakeRunner{exitCode: 127}
	inst := newTestInstaller(t, r)

	rec, err := inst.Install(context.Background(), "pkg-gone", "")
	require.Error(t, err)
	assert.Equal(t, varietyd.InstallStatusFailed, rec.Status)

	var ierr *InstallError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 127, ierr.ExitCode)
	assert.Contains(t, string(ierr.Output), "simulated failure")
}

func TestInstallRunnerError(t *testing.T) {
	r := &fakeRunner{runErr: errors.New("npm not found")}
	inst := newTestInstaller(t, r)

	rec, err := inst.Install(context.Background(), "pkg-any", "")
	require.Error(t, err)
	assert.Equal(t, varietyd.InstallStatusFailed, rec.Status)
}

func TestCleanupRemovesInstallDir(t *testing.T) {
	r := &fakeRunner{manifest: `{"main": "index.js"}`}
	inst := newTestInstaller(t, r)

	rec, err := inst.Install(context.Background(), "pkg-temp", "")
	require.NoError(t, err)
	require.DirExists(t, rec.InstallDir)

	require.NoError(t, inst.Cleanup(rec))
	assert.NoDirExists(t, rec.InstallDir)
}

func TestCleanupRefusesOutsideRoot(t *testing.T) {
	inst := newTestInstaller(t, &fakeRunner{})
	outside := t.TempDir()

	err := inst.Cleanup(varietyd.InstalledPackage{InstallDir: outside})
	require.Error(t, err)
	assert.DirExists(t, outside)
}
