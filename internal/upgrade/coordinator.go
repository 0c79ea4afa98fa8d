package upgrade

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/conn-castle/keg/internal/messages"
)

// Preview describes one planned upgrade.
type Preview struct {
	Old Ref
	New Ref
}

// String formats the preview as "<name> <old> -> <new>".
func (p Preview) String() string {
	return fmt.Sprintf(messages.UpgradePreviewLineFmt, p.New.Name, p.Old.Version, p.New.Version)
}

// Result is the outcome of a batch upgrade.
type Result struct {
	DryRun   bool
	Previews []Preview
	Upgraded []Preview
	Failures []*PackageError
}

// Err returns nil, the single failure, or a MultiError for several failures.
func (r Result) Err() error {
	return batchError(r.Failures)
}

// Coordinator drives one Transaction per outdated package.
type Coordinator struct {
	Catalog      Catalog
	Installer    Installer
	Reporter     Reporter
	Observer     Observer
	Logger       logr.Logger
	GlobalConfig Config
	MergePolicy  MergePolicy

	now func() time.Time
}

// Upgrade upgrades the named packages, or every outdated package when names is empty.
// Packages run strictly one after another. ctx is only checked between packages:
// once it is done, the remaining packages are recorded as abandoned.
func (c *Coordinator) Upgrade(ctx context.Context, names []string, opts Options) (Result, error) {
	if c.Catalog == nil {
		return Result{}, fmt.Errorf(messages.UpgradeCatalogRequired)
	}
	if c.Installer == nil {
		return Result{}, fmt.Errorf(messages.UpgradeInstallerRequired)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	opts = opts.Normalized()
	reporter := c.reporter()
	log := c.logger()

	installed, err := c.Catalog.Installed()
	if err != nil {
		return Result{}, fmt.Errorf(messages.UpgradeListInstalledFailedFmt, err)
	}

	outdated, err := c.selectOutdated(installed, names, opts.Greedy)
	if err != nil {
		return Result{}, err
	}
	result := Result{DryRun: opts.DryRun}
	if len(outdated) == 0 {
		log.V(1).Info("nothing to upgrade")
		return result, nil
	}
	if len(names) == 0 && !opts.Greedy {
		reporter.Notice(messages.UpgradeAutoUpdatesNotice)
	}

	plans := make([]plannedUpgrade, 0, len(outdated))
	for _, pkg := range outdated {
		latest, err := c.Catalog.Available(pkg.Ref.Name)
		if err != nil {
			return Result{}, fmt.Errorf(messages.UpgradeResolveAvailableFailedFmt, pkg.Ref.Name, err)
		}
		plans = append(plans, plannedUpgrade{pkg: pkg, preview: Preview{Old: pkg.Ref, New: latest}})
	}

	verb := messages.UpgradeVerbUpgrading
	if opts.DryRun {
		verb = messages.UpgradeVerbWouldUpgrade
	}
	reporter.Heading(fmt.Sprintf(messages.UpgradeBatchHeadingFmt, verb, len(plans), pluralPackages(len(plans))))
	for _, plan := range plans {
		result.Previews = append(result.Previews, plan.preview)
		reporter.Line(plan.preview.String())
	}
	if opts.DryRun {
		if opts.Verbose {
			c.reportDefinitionDiffs(plans, reporter, log)
		}
		return result, nil
	}

	tx := &Transaction{
		Installer:    c.Installer,
		Reporter:     reporter,
		Observer:     c.observer(),
		Logger:       log,
		GlobalConfig: c.GlobalConfig,
		MergePolicy:  c.MergePolicy,
	}
	for i, plan := range plans {
		if ctxErr := ctx.Err(); ctxErr != nil {
			for _, abandoned := range plans[i:] {
				result.Failures = append(result.Failures, &PackageError{
					Name: abandoned.preview.New.Name,
					Err:  fmt.Errorf("%w: %w", ErrAbandoned, ctxErr),
				})
			}
			break
		}
		started := c.clock()()
		err := tx.Execute(plan.pkg, plan.preview.New, opts)
		c.observer().TransactionFinished(plan.preview.New.Name, c.clock()().Sub(started), err)
		if err != nil {
			log.V(1).Info("upgrade failed", "package", plan.preview.New.Name, "error", err.Error())
			result.Failures = append(result.Failures, &PackageError{Name: plan.preview.New.Name, Err: err})
			continue
		}
		result.Upgraded = append(result.Upgraded, plan.preview)
		reporter.Success(fmt.Sprintf(messages.UpgradeSucceededFmt, plan.preview.New.Name, plan.preview.New.Version))
	}
	return result, result.Err()
}

type plannedUpgrade struct {
	pkg     Package
	preview Preview
}

// selectOutdated applies the outdated predicate. Explicitly named packages must be
// installed, at the given version when one is named, and are always checked greedily.
func (c *Coordinator) selectOutdated(installed []Package, names []string, greedy bool) ([]Package, error) {
	if len(names) == 0 {
		out := make([]Package, 0, len(installed))
		for _, pkg := range installed {
			outdated, err := c.Catalog.Outdated(pkg, greedy)
			if err != nil {
				return nil, fmt.Errorf(messages.UpgradeOutdatedCheckFailedFmt, pkg.Ref.Name, err)
			}
			if outdated {
				out = append(out, pkg)
			}
		}
		return out, nil
	}

	byName := make(map[string]Package, len(installed))
	for _, pkg := range installed {
		byName[pkg.Ref.Name] = pkg
	}
	seen := make(map[string]struct{}, len(names))
	selected := make([]Package, 0, len(names))
	for _, raw := range names {
		ref, err := ParseRef(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[ref.Name]; dup {
			continue
		}
		seen[ref.Name] = struct{}{}
		pkg, ok := byName[ref.Name]
		if !ok || (ref.Version != "" && ref.Version != pkg.Ref.Version) {
			return nil, &PackageError{Name: ref.Name, Err: ErrNotInstalled}
		}
		selected = append(selected, pkg)
	}

	out := make([]Package, 0, len(selected))
	for _, pkg := range selected {
		outdated, err := c.Catalog.Outdated(pkg, true)
		if err != nil {
			return nil, fmt.Errorf(messages.UpgradeOutdatedCheckFailedFmt, pkg.Ref.Name, err)
		}
		if outdated {
			out = append(out, pkg)
		}
	}
	return out, nil
}

func (c *Coordinator) reportDefinitionDiffs(plans []plannedUpgrade, reporter Reporter, log logr.Logger) {
	differ, ok := c.Catalog.(DefinitionDiffer)
	if !ok {
		return
	}
	for _, plan := range plans {
		diff, err := differ.DefinitionDiff(plan.preview.Old, plan.preview.New)
		if err != nil {
			log.V(1).Info("definition diff unavailable", "package", plan.preview.New.Name, "error", err.Error())
			continue
		}
		if diff != "" {
			reporter.Line(diff)
		}
	}
}

func pluralPackages(n int) string {
	if n == 1 {
		return messages.UpgradePackageSingular
	}
	return messages.UpgradePackagePlural
}

func (c *Coordinator) reporter() Reporter {
	if c.Reporter == nil {
		return nopReporter{}
	}
	return c.Reporter
}

func (c *Coordinator) observer() Observer {
	if c.Observer == nil {
		return nopObserver{}
	}
	return c.Observer
}

func (c *Coordinator) logger() logr.Logger {
	if c.Logger.GetSink() == nil {
		return logr.Discard()
	}
	return c.Logger
}

func (c *Coordinator) clock() func() time.Time {
	if c.now == nil {
		return time.Now
	}
	return c.now
}
