package varietyd

// InstallStatus tracks the lifecycle of an installed package directory.
type InstallStatus string

const (
	InstallStatusInstalling InstallStatus = "installing"
	InstallStatusInstalled  InstallStatus = "installed"
	InstallStatusFailed     InstallStatus = "failed"
)

// InstalledPackage is the on-disk result of installing a candidate.
//
// The install directory is reclaimed only by an explicit cleanup call,
// never implicitly — a crashed process must leave its installation intact
// for diagnosis and potential respawn.
type InstalledPackage struct {
	// PackageName is the installed package's registry name.
	PackageName string `json:"package_name"`

	// InstallDir is the unique working directory the install ran in.
	InstallDir string `json:"install_dir"`

	// BinPath is the resolved executable entry point for the package's
	// server, suitable for spawning directly.
	BinPath string `json:"bin_path,omitempty"`

	// BinArgs are arguments that must precede the package's own arguments.
	// When BinPath is an interpreter such as "node", BinArgs carries the
	// script it runs (e.g., ["<entry script>"]).
	BinArgs []string `json:"bin_args,omitempty"`

	// Status is the install outcome.
	Status InstallStatus `json:"status"`

	// FailureReason carries detail when Status is failed.
	FailureReason string `json:"failure_reason,omitempty"`
}
