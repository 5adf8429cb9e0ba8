// Package instance validates redwood instance names.
package instance

import (
	"fmt"
	"regexp"
)

// MaxNameLength is the maximum length for an instance name
const MaxNameLength = 63

// NamePattern is the pattern for valid instance names. Names become part of
// Redis keys and channel names, so they are kept to lowercase alphanumerics
// with inner hyphens.
var NamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// ValidateName checks that name can be used as an instance name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}

	if len(name) > MaxNameLength {
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), MaxNameLength)
	}

	if !NamePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}

	return nil
}
