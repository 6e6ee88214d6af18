package version

import (
	"strconv"
	"strings"
)

const (
	Version = "0.4.1"
)

// MARK: AsString
// Returns the version as a string
func AsString() string {
	return Version
}

// MARK: Major
// Returns the major version number as an integer
func Major() int {
	return component(0)
}

// MARK: Minor
// Returns the minor version number as an integer
func Minor() int {
	return component(1)
}

// MARK: Patch
// Returns the patch version number as an integer
func Patch() int {
	return component(2)
}

// MARK: component
// Parses one dotted component of the version string
func component(index int) int {
	parts := strings.Split(Version, ".")
	if index >= len(parts) {
		return 0
	}
	n, err := strconv.Atoi(parts[index])
	if err != nil {
		return 0
	}
	return n
}
