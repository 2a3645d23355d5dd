// Package install fetches a selected package into an isolated directory and
// resolves the command that runs its server.
//
// The package manager runs as a child process through the [Runner] seam so
// tests never shell out. Every name that reaches an argv has already passed
// the allow-list in the root package; the installer re-checks anyway, since
// it is the last hop before exec.
package install

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/varietylab/varietyd"
)

const defaultInstallTimeout = 5 * time.Minute

// Runner executes a package-manager command in dir and returns its exit
// code and combined output.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (int, []byte, error)
}

// InstallError reports a package-manager run that exited nonzero. Output is
// kept verbatim for diagnostics; nothing in it is parsed or acted on.
type InstallError struct {
	Pkg      string
	ExitCode int
	Output   []byte
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install: %s: package manager exited %d", e.Pkg, e.ExitCode)
}

// Installer installs packages under a root directory, one fresh
// subdirectory per install.
type Installer struct {
	root    string
	runner  Runner
	log     *slog.Logger
	timeout time.Duration
}

// Option configures an Installer.
type Option func(*Installer)

// WithRunner replaces the package-manager runner. Defaults to npm.
func WithRunner(r Runner) Option {
	return func(i *Installer) { i.runner = r }
}

// WithTimeout bounds a single install run. Defaults to 5 minutes.
func WithTimeout(d time.Duration) Option {
	return func(i *Installer) { i.timeout = d }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(i *Installer) { i.log = log }
}

// New creates an Installer rooted at dir, creating it if needed.
func New(root string, opts ...Option) (*Installer, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("install: create root: %w", err)
	}
	inst := &Installer{
		root:    root,
		runner:  npmRunner{},
		log:     slog.Default(),
		timeout: defaultInstallTimeout,
	}
	for _, opt := range opts {
		opt(inst)
	}
	return inst, nil
}

// Install fetches pkg at version into a fresh directory and resolves its
// run command. On failure the returned record carries StatusFailed and the
// reason; the caller keeps it for status reporting.
func (i *Installer) Install(ctx context.Context, pkg, version string) (varietyd.InstalledPackage, error) {
	rec := varietyd.InstalledPackage{PackageName: pkg, Status: varietyd.InstallStatusInstalling}

	if err := varietyd.ValidatePackageName(pkg); err != nil {
		return failed(rec, err), err
	}
	if err := varietyd.ValidateVersion(version); err != nil {
		return failed(rec, err), err
	}

	dir, err := os.MkdirTemp(i.root, "pkg-*")
	if err != nil {
		err = fmt.Errorf("install: workdir: %w", err)
		return failed(rec, err), err
	}
	rec.InstallDir = dir

	spec := pkg
	if version != "" {
		spec = pkg + "@" + version
	}

	runCtx := ctx
	if i.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	i.log.Info("installing package", "package", spec, "dir", dir)
	code, out, err := i.runner.Run(runCtx, dir, "install", "--no-audit", "--no-fund", spec)
	if err != nil {
		err = fmt.Errorf("install: run package manager: %w", err)
		return failed(rec, err), err
	}
	if code != 0 {
		ierr := &InstallError{Pkg: spec, ExitCode: code, Output: out}
		i.log.Warn("install failed", "package", spec, "exit", code)
		return failed(rec, ierr), ierr
	}

	pkgDir := filepath.Join(dir, "node_modules", filepath.FromSlash(pkg))
	if fi, statErr := os.Stat(pkgDir); statErr != nil || !fi.IsDir() {
		err = fmt.Errorf("install: %s: package directory missing after install", pkg)
		return failed(rec, err), err
	}

	binPath, binArgs, err := resolveCommand(dir, pkg, pkgDir)
	if err != nil {
		return failed(rec, err), err
	}

	rec.BinPath = binPath
	rec.BinArgs = binArgs
	rec.Status = varietyd.InstallStatusInstalled
	i.log.Info("package installed", "package", spec, "bin", binPath)
	return rec, nil
}

// Cleanup removes an install directory. Safe to call on a failed install.
func (i *Installer) Cleanup(rec varietyd.InstalledPackage) error {
	if rec.InstallDir == "" {
		return nil
	}
	rel, err := filepath.Rel(i.root, rec.InstallDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("install: refusing to remove %s: outside root", rec.InstallDir)
	}
	return os.RemoveAll(rec.InstallDir)
}

func failed(rec varietyd.InstalledPackage, err error) varietyd.InstalledPackage {
	rec.Status = varietyd.InstallStatusFailed
	rec.FailureReason = err.Error()
	return rec
}

// packageManifest is the slice of package.json the installer reads.
type packageManifest struct {
	Bin  json.RawMessage `json:"bin"`
	Main string          `json:"main"`
}

// resolveCommand decides how to start the installed server.
//
// Preference order: the package's bin entry via the node_modules/.bin
// symlink, then `node <main>`. A package with neither cannot be spawned.
func resolveCommand(installDir, pkg, pkgDir string) (string, []string, error) {
	data, err := os.ReadFile(filepath.Join(pkgDir, "package.json"))
	if err != nil {
		return "", nil, fmt.Errorf("install: read manifest: %w", err)
	}
	var manifest packageManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return "", nil, fmt.Errorf("install: parse manifest: %w", err)
	}

	if name, ok := binName(pkg, manifest.Bin); ok {
		link := filepath.Join(installDir, "node_modules", ".bin", name)
		if _, err := os.Stat(link); err == nil {
			return link, nil, nil
		}
	}

	if manifest.Main != "" {
		entry := filepath.Join(pkgDir, filepath.FromSlash(manifest.Main))
		if _, err := os.Stat(entry); err == nil {
			return "node", []string{entry}, nil
		}
	}

	return "", nil, fmt.Errorf("install: %s: no bin or main entry to run", pkg)
}

// binName extracts the command name from a package.json bin field, which is
// either a string (command named after the package) or a name→path map.
func binName(pkg string, raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return filepath.Base(pkg), true
	}
	var multi map[string]string
	if err := json.Unmarshal(raw, &multi); err != nil || len(multi) == 0 {
		return "", false
	}
	base := filepath.Base(pkg)
	if _, ok := multi[base]; ok {
		return base, true
	}
	names := make([]string, 0, len(multi))
	for name := range multi {
		names = append(names, name)
	}
	sort.Strings(names)
	return names[0], true
}
