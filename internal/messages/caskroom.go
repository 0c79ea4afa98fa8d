package messages

// Caskroom messages for definitions, downloads and installation mechanics.
const (
	// CaskroomPrefixRequired indicates the keg prefix is missing.
	CaskroomPrefixRequired   = "keg prefix is required"
	CaskroomPrefixResolveFmt = "resolve prefix %s: %w"
	CaskroomInvalidRefFmt    = "invalid package reference %q: name and version must be plain path components"
	CaskroomInvalidNameFmt   = "invalid package name %q"

	CaskroomReadFailedFmt      = "failed to read %s: %w"
	CaskroomWriteFailedFmt     = "failed to write %s: %w"
	CaskroomStatFailedFmt      = "failed to stat %s: %w"
	CaskroomCreateDirFailedFmt = "failed to create directory %s: %w"
	CaskroomRemoveFailedFmt    = "failed to remove %s: %w"
	CaskroomMoveFailedFmt      = "failed to move %s to %s: %w"
	CaskroomLinkFailedFmt      = "failed to link %s to %s: %w"

	// CaskroomDefinitionInvalidFmt formats definition decode and validation errors.
	CaskroomDefinitionInvalidFmt      = "invalid definition %s: %w"
	CaskroomDefinitionFormatFmt       = "definition %s must be .toml, .yaml or .yml"
	CaskroomDefinitionNameMismatchFmt = "definition %s declares name %q, expected %q"
	CaskroomDefinitionURLRequired     = "url is required"
	CaskroomDefinitionSHAInvalidFmt   = "sha256 %q must be 64 lowercase hex characters"
	CaskroomArtifactKindInvalidFmt    = "artifacts[%d]: kind %q must be app or binary"
	CaskroomArtifactSourceInvalidFmt  = "artifacts[%d]: source %q must be a relative path inside the payload"
	CaskroomArtifactTargetInvalidFmt  = "artifacts[%d]: target %q must be a plain file name"

	CaskroomReceiptInvalidFmt      = "invalid receipt %s: %w"
	CaskroomReceiptEncodeFailedFmt = "encode receipt for %s: %w"

	CaskroomMarkerIDFailedFmt     = "generate upgrade marker id: %w"
	CaskroomMarkerEncodeFailedFmt = "encode upgrade marker: %w"
	CaskroomMarkerInvalidFmt      = "invalid upgrade marker %s: %w"
	CaskroomMarkerSchemaFmt       = "upgrade marker %s has schema version %d, expected %d"

	CaskroomNoSuchVersionFmt = "%s is neither installed nor available"
	CaskroomNoDefinitionFmt  = "no definition installs %s"
	CaskroomNotInstalledFmt  = "%s is not installed"
	CaskroomNotFetchedFmt    = "%s has not been fetched"

	CaskroomConflictFmt          = "%s conflicts with installed package %s"
	CaskroomDependencyMissingFmt = "%s depends on %s, which is not installed"
	CaskroomSHARequiredFmt       = "%s has no sha256 checksum and checksums are required"
	CaskroomConfigKeyMissingFmt  = "config key %s is not set"
	CaskroomArtifactMissingFmt   = "artifact source %s is missing from the payload: %w"
	CaskroomTargetExistsFmt      = "%s already exists; pass --force to overwrite it"
	CaskroomQuarantineFailedFmt  = "failed to quarantine %s: %w"
	CaskroomVersionDirExistsFmt  = "%s already exists"
	CaskroomStagingExistsFmt     = "%s already exists; a previous upgrade did not finish"
	CaskroomStagingMissingFmt    = "staged version %s is missing: %w"
	CaskroomStagingIncompleteFmt = "staged version %s has no receipt and cannot be restored: %w"

	// CaskroomDownloadFailedFmt formats download errors for http, s3 and local sources.
	CaskroomDownloadFailedFmt       = "download %s: %w"
	CaskroomDownloadTooLarge        = "download exceeds the maximum size"
	CaskroomHTTPStatusFmt           = "unexpected status %s"
	CaskroomURLInvalidFmt           = "invalid url %s: %w"
	CaskroomURLSchemeUnsupportedFmt = "unsupported url scheme %q in %s"
	CaskroomS3URLShape              = "expected s3://bucket/key"
	CaskroomS3ConfigFailedFmt       = "load AWS configuration: %w"

	CaskroomArchiveInvalidFmt     = "invalid archive: %w"
	CaskroomArchiveEntryUnsafeFmt = "archive entry %s escapes the payload directory"
	CaskroomArchiveEntryTypeFmt   = "archive entry %s has unsupported type %q"

	CaskroomOpenLockFmt    = "open lock file %s: %w"
	CaskroomLockFmt        = "lock %s: %w"
	CaskroomLockTimeoutFmt = "timed out after %s waiting for another keg process"
)
