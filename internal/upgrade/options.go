package upgrade

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conn-castle/keg/internal/messages"
)

// Options controls a batch upgrade. It is built once per invocation and passed
// unchanged to every transaction.
type Options struct {
	Force            bool
	SkipDependencies bool
	Greedy           bool
	DryRun           bool
	Verbose          bool
	// Binaries, Quarantine and RequireSHA are tri-state: nil leaves the choice to
	// the installer session.
	Binaries   *bool
	Quarantine *bool
	RequireSHA *bool
}

// Normalized returns a copy with defaults applied. Quarantine defaults to true.
func (o Options) Normalized() Options {
	if o.Quarantine == nil {
		quarantine := true
		o.Quarantine = &quarantine
	}
	return o
}

// SessionOptions is the subset of Options an installer session receives.
type SessionOptions struct {
	Force            bool
	Verbose          bool
	Upgrade          bool
	SkipDependencies bool
	Binaries         *bool
	Quarantine       *bool
	RequireSHA       *bool
}

// oldSessionOptions mirrors the options an installed package needs to move
// itself in and out of staging.
func (o Options) oldSessionOptions() SessionOptions {
	return SessionOptions{
		Force:    o.Force,
		Verbose:  o.Verbose,
		Upgrade:  true,
		Binaries: o.Binaries,
	}
}

func (o Options) newSessionOptions() SessionOptions {
	return SessionOptions{
		Force:            o.Force,
		Verbose:          o.Verbose,
		Upgrade:          true,
		SkipDependencies: o.SkipDependencies,
		Binaries:         o.Binaries,
		Quarantine:       o.Quarantine,
		RequireSHA:       o.RequireSHA,
	}
}

// Config is the per-package configuration saved with an installed package,
// such as target directories.
type Config map[string]string

// Keys returns the config keys in sorted order.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c))
	for key := range c {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy of c. A nil config clones to an empty one.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	for key, value := range c {
		out[key] = value
	}
	return out
}

// MergePolicy decides which side wins when global and installed config share a key.
type MergePolicy string

const (
	// MergePreferGlobal lets globally configured values override the installed package's saved values.
	MergePreferGlobal MergePolicy = "global"
	// MergePreferInstalled keeps the installed package's saved values.
	MergePreferInstalled MergePolicy = "installed"
)

// ParseMergePolicy parses a policy name. An empty name selects MergePreferGlobal.
func ParseMergePolicy(raw string) (MergePolicy, error) {
	switch MergePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", MergePreferGlobal:
		return MergePreferGlobal, nil
	case MergePreferInstalled:
		return MergePreferInstalled, nil
	default:
		return "", fmt.Errorf(messages.UpgradeMergePolicyInvalidFmt, raw)
	}
}

// MergeConfig builds the config a new package version inherits from the installed one.
func MergeConfig(global Config, installed Config, policy MergePolicy) Config {
	merged := make(Config, len(global)+len(installed))
	base, overlay := installed, global
	if policy == MergePreferInstalled {
		base, overlay = global, installed
	}
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range overlay {
		merged[key] = value
	}
	return merged
}
