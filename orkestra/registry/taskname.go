package registry

import "strings"

// TaskName identifies an orchestrator, activity, or entity. Two TaskNames
// are equal iff their Name fields compare equal under a stable
// case-insensitive rule (Version is compared verbatim: "v1" and "V1" are
// distinct versions of the same name).
type TaskName struct {
	// Name is the task's logical identifier, compared case-insensitively.
	Name string
	// Version optionally disambiguates multiple implementations registered
	// under the same Name. Empty means "unversioned".
	Version string
}

// Equal reports whether n and other identify the same task.
func (n TaskName) Equal(other TaskName) bool {
	return strings.EqualFold(n.Name, other.Name) && n.Version == other.Version
}

// String renders the TaskName for logs and error messages.
func (n TaskName) String() string {
	if n.Version == "" {
		return n.Name
	}
	return n.Name + "@" + n.Version
}

// key returns the canonical lookup key: case-folded name plus version. Using
// a plain map key (rather than a custom Equal-aware container) keeps lookup
// O(1) while still honoring case-insensitive comparison.
func (n TaskName) key() string {
	return strings.ToLower(n.Name) + "\x00" + n.Version
}
