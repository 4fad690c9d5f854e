package pipeline

import (
	"regexp"
	"strings"

	"git.home.luguber.info/inful/enginesmith/internal/registry"
	"git.home.luguber.info/inful/enginesmith/internal/releases"
)

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// DeriveIdentity derives a build folder identity from a release tag and a
// variant name: the tag's numeric component plus a slug of the variant.
// "4.2.1-stable" + "Voxel Edition" yields "4.2.1-voxel-edition".
func DeriveIdentity(versionTag, variantName string) string {
	numeric := releases.NumericVersion(versionTag)
	slug := Slugify(variantName)
	if slug == "" {
		return registry.NormalizeIdentity(numeric)
	}
	return registry.NormalizeIdentity(numeric + "-" + slug)
}

// Slugify reduces a human-readable name to a filesystem-friendly slug.
func Slugify(name string) string {
	slug := slugUnsafe.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(slug, "-")
}
