package messages

// Config messages for keg.toml loading and validation.
const (
	ConfigReadFailedFmt       = "read config %s: %w"
	ConfigInvalidFmt          = "invalid config %s: %w"
	ConfigUnrecognizedKeysFmt = "%s: unrecognized config keys: %w"

	ConfigPrefixResolveFmt = "resolve prefix %s: %w"
	ConfigPathResolveFmt   = "resolve config path %s: %w"

	ConfigDirEmptyFmt    = "%s: dirs.%s must not be empty"
	ConfigDirInvalidFmt  = "%s: %s: %w"
	ConfigDirRelativeFmt = "%s: dirs.%s must be an absolute path (got %q)"

	ConfigFetchTimeoutInvalidFmt = "%s: fetch.timeout %q must be a positive duration such as 30s or 5m"
	ConfigFetchRetriesRangeFmt   = "%s: fetch.retries %d must be between 0 and %d"
)
