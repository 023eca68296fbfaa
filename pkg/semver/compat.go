// Package semver checks protocol version compatibility between bridge peers.
package semver

import (
	"fmt"
	"regexp"
	"strconv"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "semver:compat"

var majorOnlyRegex = regexp.MustCompile(`^\d+$`)

// IsMajorOnly checks if a constraint is a major-only specifier (e.g., "1").
func IsMajorOnly(constraint string) bool {
	return majorOnlyRegex.MatchString(constraint)
}

// ValidateConstraint reports whether constraint can be used with Satisfies.
func ValidateConstraint(constraint string) error {
	if IsMajorOnly(constraint) {
		return nil
	}
	if _, err := masterminds.NewConstraint(constraint); err != nil {
		return fmt.Errorf("%s - invalid constraint %q: %w", logPrefix, constraint, err)
	}
	return nil
}

// Satisfies checks if version satisfies constraint. The constraint may be a
// major-only specifier ("1"), an exact version or any range understood by
// Masterminds/semver ("^1.0.0", ">=1.2 <2"). An empty constraint accepts every
// valid version.
func Satisfies(version, constraint string) (bool, error) {
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("%s - invalid version %q: %w", logPrefix, version, err)
	}

	if constraint == "" {
		return true, nil
	}

	if IsMajorOnly(constraint) {
		major, _ := strconv.ParseUint(constraint, 10, 64)
		return sv.Major() == major, nil
	}

	c, err := masterminds.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("%s - invalid constraint %q: %w", logPrefix, constraint, err)
	}
	return c.Check(sv), nil
}
