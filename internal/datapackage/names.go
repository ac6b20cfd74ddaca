package datapackage

import (
	"regexp"
	"strings"
)

var (
	unsafeNameChars     = regexp.MustCompile(`[^a-z0-9._-]+`)
	unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// CleanName derives a package name from a dataset name: lower case, with runs
// of anything outside [a-z0-9._-] collapsed to a single dash.
func CleanName(database string) string {
	name := unsafeNameChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(database)), "-")
	return strings.Trim(name, "-")
}

// CheckName rejects names that are empty or could escape a directory.
func CheckName(name string) error {
	switch {
	case name == "":
		return ErrInvalidName.With("name", name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return ErrInvalidName.With("name", name)
	case strings.Contains(name, ".."), strings.HasPrefix(name, "."):
		return ErrInvalidName.With("name", name)
	}
	return nil
}

// SafeFilename turns an arbitrary string into a filename that is safe on
// every platform: path separators and other unsafe characters become
// underscores and leading dots are dropped.
func SafeFilename(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	s = unsafeFilenameChars.ReplaceAllString(s, "_")
	s = strings.TrimLeft(s, "._")
	return strings.TrimRight(s, "_")
}

// ArchiveFilename is the archive name written for a dataset.
func ArchiveFilename(database string) string {
	name := SafeFilename(strings.ReplaceAll(database, " ", "-"))
	if name == "" {
		name = CleanName(database)
	}
	if !strings.HasSuffix(strings.ToLower(name), ".zip") {
		name += ".zip"
	}
	return name
}
