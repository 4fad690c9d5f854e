package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveIdentity(t *testing.T) {
	cases := []struct {
		tag     string
		variant string
		want    string
	}{
		{"4.2.1-stable", "Voxel Edition", "4.2.1-voxel-edition"},
		{"4.2.1-stable", "", "4.2.1"},
		{"4.3-stable", "custom", "4.3-custom"},
		{"4.3-stable", "  Weird__Name!  ", "4.3-weird-name"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DeriveIdentity(tc.tag, tc.variant),
			"tag %q variant %q", tc.tag, tc.variant)
	}
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "voxel-edition", Slugify("Voxel Edition"))
	assert.Equal(t, "", Slugify("   "))
	assert.Equal(t, "a-b-c", Slugify("a/b\\c"))
}
