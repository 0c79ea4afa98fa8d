package upgrade

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// fakeWorld is an in-memory catalog and installer that records every session call.
type fakeWorld struct {
	mu        sync.Mutex
	installed map[string]*fakePackage
	available map[string]string
	// failures maps "name@version:method" to the error that method returns.
	failures map[string]error
	calls    []string
	sessions []fakeSessionRecord
	staging  map[string]string
}

type fakePackage struct {
	version     string
	autoUpdates bool
	config      Config
}

type fakeSessionRecord struct {
	ref  Ref
	cfg  Config
	opts SessionOptions
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		installed: map[string]*fakePackage{},
		available: map[string]string{},
		failures:  map[string]error{},
		staging:   map[string]string{},
	}
}

func (w *fakeWorld) install(name string, version string) *fakePackage {
	pkg := &fakePackage{version: version, config: Config{}}
	w.installed[name] = pkg
	return pkg
}

func (w *fakeWorld) fail(ref string, method string, err error) {
	w.failures[ref+":"+method] = err
}

func (w *fakeWorld) record(ref Ref, method string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, ref.String()+":"+method)
	return w.failures[ref.String()+":"+method]
}

func (w *fakeWorld) callsFor(name string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0)
	for _, call := range w.calls {
		if strings.HasPrefix(call, name+"@") {
			out = append(out, call)
		}
	}
	return out
}

func (w *fakeWorld) count(call string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, c := range w.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (w *fakeWorld) Installed() ([]Package, error) {
	names := make([]string, 0, len(w.installed))
	for name := range w.installed {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Package, 0, len(names))
	for _, name := range names {
		pkg := w.installed[name]
		out = append(out, Package{
			Ref:         Ref{Name: name, Version: pkg.version},
			AutoUpdates: pkg.autoUpdates,
			Config:      pkg.config,
		})
	}
	return out, nil
}

func (w *fakeWorld) Available(name string) (Ref, error) {
	version, ok := w.available[name]
	if !ok {
		return Ref{}, fmt.Errorf("no definition for %s", name)
	}
	return Ref{Name: name, Version: version}, nil
}

func (w *fakeWorld) Outdated(pkg Package, greedy bool) (bool, error) {
	if !greedy && pkg.AutoUpdates {
		return false, nil
	}
	latest, ok := w.available[pkg.Ref.Name]
	return ok && latest != pkg.Ref.Version, nil
}

func (w *fakeWorld) Session(ref Ref, cfg Config, opts SessionOptions) (Session, error) {
	w.mu.Lock()
	w.sessions = append(w.sessions, fakeSessionRecord{ref: ref, cfg: cfg, opts: opts})
	w.mu.Unlock()
	return &fakeSession{world: w, ref: ref}, nil
}

// fakeSession applies state changes to the world so tests can assert the end state.
type fakeSession struct {
	world *fakeWorld
	ref   Ref
}

func (s *fakeSession) CheckConflicts() error { return s.world.record(s.ref, "check_conflicts") }

func (s *fakeSession) Caveats() string {
	_ = s.world.record(s.ref, "caveats")
	return ""
}

func (s *fakeSession) Fetch() error { return s.world.record(s.ref, "fetch") }
func (s *fakeSession) Stage() error { return s.world.record(s.ref, "stage") }

func (s *fakeSession) InstallArtifacts() error {
	if err := s.world.record(s.ref, "install_artifacts"); err != nil {
		return err
	}
	s.world.install(s.ref.Name, s.ref.Version)
	return nil
}

func (s *fakeSession) UninstallArtifacts() error {
	if err := s.world.record(s.ref, "uninstall_artifacts"); err != nil {
		return err
	}
	if pkg, ok := s.world.installed[s.ref.Name]; ok && pkg.version == s.ref.Version {
		delete(s.world.installed, s.ref.Name)
	}
	return nil
}

func (s *fakeSession) PurgeVersionedFiles() error {
	return s.world.record(s.ref, "purge_versioned_files")
}

func (s *fakeSession) StartUpgrade() error {
	if err := s.world.record(s.ref, "start_upgrade"); err != nil {
		return err
	}
	delete(s.world.installed, s.ref.Name)
	s.world.staging[s.ref.Name] = s.ref.Version
	return nil
}

func (s *fakeSession) FinalizeUpgrade() error {
	if err := s.world.record(s.ref, "finalize_upgrade"); err != nil {
		return err
	}
	delete(s.world.staging, s.ref.Name)
	return nil
}

func (s *fakeSession) RevertUpgrade() error {
	if err := s.world.record(s.ref, "revert_upgrade"); err != nil {
		return err
	}
	version := s.world.staging[s.ref.Name]
	delete(s.world.staging, s.ref.Name)
	s.world.install(s.ref.Name, version)
	return nil
}

// recordingReporter captures reporter output by kind.
type recordingReporter struct {
	notices  []string
	headings []string
	lines    []string
	caveats  []string
	success  []string
}

func (r *recordingReporter) Notice(msg string)  { r.notices = append(r.notices, msg) }
func (r *recordingReporter) Heading(msg string) { r.headings = append(r.headings, msg) }
func (r *recordingReporter) Line(msg string)    { r.lines = append(r.lines, msg) }
func (r *recordingReporter) Caveats(name string, text string) {
	r.caveats = append(r.caveats, name+": "+text)
}
func (r *recordingReporter) Success(msg string) { r.success = append(r.success, msg) }

type recordingObserver struct {
	transactions  []string
	compensations []string
}

func (o *recordingObserver) TransactionFinished(name string, _ time.Duration, err error) {
	o.transactions = append(o.transactions, fmt.Sprintf("%s:%t", name, err == nil))
}

func (o *recordingObserver) CompensationFinished(step Step, err error) {
	o.compensations = append(o.compensations, fmt.Sprintf("%s:%t", step, err == nil))
}

var errBoom = errors.New("boom")
