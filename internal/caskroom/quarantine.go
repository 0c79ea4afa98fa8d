package caskroom

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// QuarantineAttr is the extended attribute marking files fetched from the network.
const QuarantineAttr = "user.keg.quarantine"

// quarantineValue encodes download time and origin, loosely following the
// com.apple.quarantine layout.
func quarantineValue(now time.Time, origin string) []byte {
	return []byte(fmt.Sprintf("0081;%x;keg;%s", now.Unix(), strings.ReplaceAll(origin, ";", "%3B")))
}

// applyQuarantine tags path. Filesystems without user xattr support are skipped.
func applyQuarantine(sys System, path string, value []byte) error {
	err := sys.Setxattr(path, QuarantineAttr, value)
	if err == nil || isXattrUnsupported(err) {
		return nil
	}
	return err
}

func isXattrUnsupported(err error) bool {
	return errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.EPERM)
}
