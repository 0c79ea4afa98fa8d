package messages

// Upgrade messages for the batch coordinator and per-package transactions.
const (
	// UpgradeRefEmpty indicates an empty package reference.
	UpgradeRefEmpty      = "package reference is required"
	UpgradeRefInvalidFmt = "invalid package reference %q: expected name or name@version"

	UpgradeMergePolicyInvalidFmt = "invalid config merge policy %q: must be one of global, installed"

	UpgradeInstallerRequired = "upgrade installer is required"
	UpgradeCatalogRequired   = "upgrade catalog is required"

	// UpgradeStepFailedFmt formats a failed step as "<step> failed for <name@version>: <cause>".
	UpgradeStepFailedFmt         = "%s failed for %s: %v"
	UpgradeCompensationFailedFmt = "%v (compensation also failed: %s)"
	UpgradeSessionFailedFmt      = "open installer session for %s: %w"

	// UpgradePackageErrorFmt prefixes an error with the package name it belongs to.
	UpgradePackageErrorFmt      = "%s: %v"
	UpgradeMultipleErrorsHeader = "Problems with multiple packages:"

	UpgradeListInstalledFailedFmt    = "list installed packages: %w"
	UpgradeOutdatedCheckFailedFmt    = "check whether %s is outdated: %w"
	UpgradeResolveAvailableFailedFmt = "resolve available version of %s: %w"

	// UpgradeAutoUpdatesNotice is shown when packages that update themselves were left out.
	UpgradeAutoUpdatesNotice = "Packages with `auto_updates` or `version \"latest\"` are skipped. Pass --greedy to upgrade them too."

	UpgradeVerbUpgrading    = "Upgrading"
	UpgradeVerbWouldUpgrade = "Would upgrade"
	UpgradeBatchHeadingFmt  = "%s %d outdated %s:"
	UpgradePackageSingular  = "package"
	UpgradePackagePlural    = "packages"
	UpgradePreviewLineFmt   = "%s %s -> %s"

	UpgradeTransactionHeadingFmt = "Upgrading %s"
	UpgradeSucceededFmt          = "%s was successfully upgraded to %s"
)

// Reporter formats.
const (
	ReportArrow          = "==>"
	ReportCaveatsFmt     = "Caveats for %s"
	ReportPendingUpgrade = "An earlier keg process left an unfinished upgrade behind:"
	ReportPendingLineFmt = "%s (started %s, marker %s)"
)

// MetricsWriteFailedFmt formats textfile export failures.
const MetricsWriteFailedFmt = "write metrics textfile %s: %w"
