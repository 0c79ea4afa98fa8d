package caskroom

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/conn-castle/keg/internal/messages"
	"github.com/conn-castle/keg/internal/upgrade"
)

// Receipt records how a package version was installed.
// A version directory without a receipt is not considered installed.
type Receipt struct {
	Name        string            `toml:"name"`
	Version     string            `toml:"version"`
	SHA256      string            `toml:"sha256,omitempty"`
	AutoUpdates bool              `toml:"auto_updates"`
	InstalledAt time.Time         `toml:"installed_at"`
	Binaries    bool              `toml:"binaries"`
	Quarantine  bool              `toml:"quarantine"`
	Config      map[string]string `toml:"config"`
	Artifacts   []Artifact        `toml:"artifacts"`
	// DefinitionFile and Definition keep the definition as it was at install time.
	DefinitionFile string `toml:"definition_file"`
	Definition     string `toml:"definition"`
}

// Ref returns the installed name@version.
func (r *Receipt) Ref() upgrade.Ref {
	return upgrade.Ref{Name: r.Name, Version: r.Version}
}

func readReceipt(sys System, dir string) (*Receipt, error) {
	file := filepath.Join(dir, receiptFileName)
	data, err := sys.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var receipt Receipt
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&receipt); err != nil {
		return nil, fmt.Errorf(messages.CaskroomReceiptInvalidFmt, file, err)
	}
	return &receipt, nil
}

// readReceiptIfPresent returns nil without error when dir holds no receipt.
func readReceiptIfPresent(sys System, dir string) (*Receipt, error) {
	receipt, err := readReceipt(sys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf(messages.CaskroomReadFailedFmt, filepath.Join(dir, receiptFileName), err)
	}
	return receipt, nil
}

func writeReceipt(sys System, dir string, receipt *Receipt) error {
	data, err := toml.Marshal(receipt)
	if err != nil {
		return fmt.Errorf(messages.CaskroomReceiptEncodeFailedFmt, receipt.Ref(), err)
	}
	file := filepath.Join(dir, receiptFileName)
	if err := sys.WriteFileAtomic(file, data, 0o644); err != nil {
		return fmt.Errorf(messages.CaskroomWriteFailedFmt, file, err)
	}
	return nil
}
