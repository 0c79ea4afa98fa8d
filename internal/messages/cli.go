package messages

// CLI messages for user-facing commands and flags.
const (
	// RootUse is the CLI command name.
	RootUse = "keg"
	// RootShort is the short description for the root command.
	RootShort       = "Install and upgrade packages into a prefix"
	RootVersionFlag = "Print version and exit"
	RootFlagPrefix  = "Package prefix (default $KEG_PREFIX or ~/.keg)"
	RootFlagDebug   = "Log upgrade steps to stderr"
	RootDebugPrefix = "keg: "

	// VersionCommitFmt formats the commit hash for version display.
	VersionCommitFmt = "commit %s"
	VersionBuildFmt  = "built %s"
	VersionFullFmt   = "%s (%s)"
	VersionTemplate  = "{{.Version}}\n"

	// UpgradeUse is the upgrade command usage.
	UpgradeUse   = "upgrade [package...]"
	UpgradeShort = "Upgrade outdated packages"
	UpgradeLong  = `Upgrade every outdated package, or only the named ones.

Each package is upgraded in one transaction: when a step fails, keg puts the
previously installed version back.`

	UpgradeFlagForce        = "Overwrite existing artifacts and version directories"
	UpgradeFlagSkipDeps     = "Do not require dependencies to be installed"
	UpgradeFlagGreedy       = "Also upgrade packages with auto_updates or version \"latest\""
	UpgradeFlagDryRun       = "Show what would be upgraded without changing anything"
	UpgradeFlagBinaries     = "Link binary artifacts into the bin directory"
	UpgradeFlagNoBinaries   = "Do not link binary artifacts"
	UpgradeFlagQuarantine   = "Mark installed apps with the quarantine attribute"
	UpgradeFlagNoQuarantine = "Do not set the quarantine attribute"
	UpgradeFlagRequireSHA   = "Refuse packages without a sha256 checksum"
	UpgradeFlagVerbose      = "Print definition diffs during a dry run (default when stdout is a terminal)"
	UpgradeFlagQuiet        = "Print only caveats, warnings and results"

	// InstallUse is the install command usage.
	InstallUse          = "install package..."
	InstallShort        = "Install packages for the first time"
	InstallSucceededFmt = "%s %s was successfully installed"
	InstallFailedFmt    = "install %s: %w"

	// PendingUse is the pending command usage.
	PendingUse   = "pending"
	PendingShort = "List upgrades an interrupted keg process left staged"
	PendingNone  = "No unfinished upgrades."

	FlagConflictFmt      = "--%s and --%s cannot be used together"
	ConfigLoadWarningFmt = "Warning: %v"
	MetricsWarningFmt    = "Warning: %v"
)
