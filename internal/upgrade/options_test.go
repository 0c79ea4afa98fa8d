package upgrade

import (
	"errors"
	"reflect"
	"testing"
)

func TestOptionsNormalized_DefaultsQuarantine(t *testing.T) {
	opts := Options{}.Normalized()
	if opts.Quarantine == nil || !*opts.Quarantine {
		t.Fatalf("expected quarantine to default to true, got %v", opts.Quarantine)
	}

	off := false
	opts = Options{Quarantine: &off}.Normalized()
	if *opts.Quarantine {
		t.Fatal("explicit quarantine=false must be preserved")
	}
	if opts.Binaries != nil || opts.RequireSHA != nil {
		t.Fatal("unset tri-state options must stay unset")
	}
}

func TestMergeConfig(t *testing.T) {
	global := Config{"appdir": "/global/apps", "bindir": "/global/bin"}
	installed := Config{"appdir": "/saved/apps", "fontdir": "/saved/fonts"}

	tests := []struct {
		name   string
		policy MergePolicy
		want   Config
	}{
		{
			name:   "prefer global",
			policy: MergePreferGlobal,
			want:   Config{"appdir": "/global/apps", "bindir": "/global/bin", "fontdir": "/saved/fonts"},
		},
		{
			name:   "empty policy prefers global",
			policy: "",
			want:   Config{"appdir": "/global/apps", "bindir": "/global/bin", "fontdir": "/saved/fonts"},
		},
		{
			name:   "prefer installed",
			policy: MergePreferInstalled,
			want:   Config{"appdir": "/saved/apps", "bindir": "/global/bin", "fontdir": "/saved/fonts"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeConfig(global, installed, tt.policy)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("MergeConfig() = %v, want %v", got, tt.want)
			}
		})
	}
	if global["fontdir"] != "" || installed["bindir"] != "" {
		t.Fatal("MergeConfig must not mutate its inputs")
	}
}

func TestParseMergePolicy(t *testing.T) {
	for raw, want := range map[string]MergePolicy{"": MergePreferGlobal, "Global": MergePreferGlobal, " installed ": MergePreferInstalled} {
		got, err := ParseMergePolicy(raw)
		if err != nil || got != want {
			t.Fatalf("ParseMergePolicy(%q) = %q, %v; want %q", raw, got, err, want)
		}
	}
	if _, err := ParseMergePolicy("newest"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestConfigKeysAndClone(t *testing.T) {
	cfg := Config{"b": "2", "a": "1"}
	if got := cfg.Keys(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("Keys() = %v", got)
	}
	clone := cfg.Clone()
	clone["a"] = "changed"
	if cfg["a"] != "1" {
		t.Fatal("Clone must not share storage")
	}
	if got := Config(nil).Clone(); got == nil {
		t.Fatal("Clone of nil config should be non-nil")
	}
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		raw     string
		want    Ref
		wantErr bool
	}{
		{raw: "app", want: Ref{Name: "app"}},
		{raw: " app@1.0 ", want: Ref{Name: "app", Version: "1.0"}},
		{raw: "app@latest", want: Ref{Name: "app", Version: "latest"}},
		{raw: "", wantErr: true},
		{raw: "@1.0", wantErr: true},
		{raw: "app@", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseRef(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseRef(%q) expected error", tt.raw)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseRef(%q) = %+v, %v; want %+v", tt.raw, got, err, tt.want)
		}
		if tt.want.Version != "" && got.String() != tt.want.Name+"@"+tt.want.Version {
			t.Fatalf("String() = %q", got.String())
		}
	}
}

func TestResultErr(t *testing.T) {
	if err := (Result{}).Err(); err != nil {
		t.Fatalf("empty result error = %v", err)
	}
	one := &PackageError{Name: "a", Err: errBoom}
	if err := (Result{Failures: []*PackageError{one}}).Err(); err != one {
		t.Fatalf("single failure should be returned as-is, got %v", err)
	}
	two := &PackageError{Name: "b", Err: ErrNotInstalled}
	err := (Result{Failures: []*PackageError{one, two}}).Err()
	var multi *MultiError
	if !errors.As(err, &multi) || len(multi.Errors) != 2 {
		t.Fatalf("expected MultiError with two failures, got %v", err)
	}
	if !errors.Is(err, ErrNotInstalled) || !errors.Is(err, errBoom) {
		t.Fatalf("MultiError should unwrap to every failure: %v", err)
	}
	want := "Problems with multiple packages:\n  a: boom\n  b: package is not installed"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
