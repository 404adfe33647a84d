package graph

import (
	"strings"

	"fortio.org/log"
	"github.com/Masterminds/semver/v3"
)

const assemblyVersionPrefix = "Version="

// NewIdentity builds the identity key from a module name and an optional
// version qualifier. Semantic versions are normalized ("1.2" -> "v1.2.0"),
// anything else is kept verbatim.
func NewIdentity(name, version string) string {
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)
	if name == "" {
		return ""
	}
	if version == "" {
		return name
	}
	return name + "@" + normalizeVersion(version)
}

func normalizeVersion(raw string) string {
	v, err := semver.NewVersion(raw)
	if err != nil {
		log.LogVf("Keeping non semver version %q as is: %v", raw, err)
		return raw
	}
	return "v" + v.String()
}

// ParseIdentity turns a reference by name into an identity. Accepted forms:
//
//	name
//	name@version
//	Name, Version=1.2.3[, Culture=neutral, PublicKeyToken=...]
func ParseIdentity(ref string) string {
	ref = strings.TrimSpace(ref)
	if name, rest, found := strings.Cut(ref, ","); found {
		// Only the version part qualifies the identity; culture and key token are dropped.
		version, _, _ := strings.Cut(rest, ",")
		version = strings.TrimSpace(version)
		if !strings.HasPrefix(version, assemblyVersionPrefix) {
			return NewIdentity(name, "")
		}
		return NewIdentity(name, strings.TrimPrefix(version, assemblyVersionPrefix))
	}
	if i := strings.LastIndex(ref, "@"); i > 0 {
		return NewIdentity(ref[:i], ref[i+1:])
	}
	return NewIdentity(ref, "")
}

