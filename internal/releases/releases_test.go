package releases

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectStableFiltersNonStableTags(t *testing.T) {
	tags := []string{
		"4.3.0-stable",
		"4.3.0-rc1",
		"4.3-beta2",
		"4.3-stable",
		"",
		"stable",
		"4.2.1-stable",
		"v4.2.0-stable", // leading v is outside the convention
	}

	got := SelectStable(tags, 0)

	var gotTags []string
	for _, c := range got {
		gotTags = append(gotTags, c.Tag)
	}
	assert.ElementsMatch(t, []string{"4.3.0-stable", "4.3-stable", "4.2.1-stable"}, gotTags)
	for _, c := range got {
		_, ok := ParseStableTag(c.Tag)
		assert.True(t, ok, "returned candidate %q must match the stable pattern", c.Tag)
	}
}

func TestSelectStableOrdersDescending(t *testing.T) {
	tags := []string{"3.5.2-stable", "4.0-stable", "4.2.1-stable", "4.2-stable", "4.10.0-stable"}

	got := SelectStable(tags, 0)

	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		cmp := got[i-1].Version.Compare(got[i].Version)
		assert.GreaterOrEqual(t, cmp, 0,
			"sequence must be non-increasing: %s before %s", got[i-1].Tag, got[i].Tag)
	}
	assert.Equal(t, "4.10.0-stable", got[0].Tag)
	assert.Equal(t, "3.5.2-stable", got[4].Tag)
}

func TestSelectStablePatchDefaultsToZero(t *testing.T) {
	// 4.3-stable and 4.3.0-stable parse identically; tie broken by raw tag.
	got := SelectStable([]string{"4.3-stable", "4.3.0-stable"}, 0)

	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Version.Compare(got[1].Version))
	assert.Equal(t, "4.3.0-stable", got[0].Tag, "raw-tag tiebreak is descending")
}

func TestSelectStableTruncatesToLimit(t *testing.T) {
	tags := []string{"4.0-stable", "4.1-stable", "4.2-stable", "4.3-stable"}

	got := SelectStable(tags, 2)

	require.Len(t, got, 2)
	assert.Equal(t, "4.3-stable", got[0].Tag)
	assert.Equal(t, "4.2-stable", got[1].Tag)
}

func TestNumericVersion(t *testing.T) {
	assert.Equal(t, "4.2.1", NumericVersion("4.2.1-stable"))
	assert.Equal(t, "4.3", NumericVersion("4.3-stable"))
	assert.Equal(t, "4.3.0-rc1", NumericVersion("4.3.0-rc1"))
}

func TestFetchRecentStable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"tag_name": "4.3.0-rc2", "name": "4.3 RC 2"},
			{"tag_name": "4.2.2-stable", "name": "4.2.2"},
			{"tag_name": "4.2.1-stable", "name": "4.2.1"},
			{"tag_name": "4.1.4-stable", "name": "4.1.4"}
		]`))
	}))
	defer server.Close()

	got, err := NewClient(server.URL).FetchRecentStable(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "4.2.2-stable", got[0].Tag)
	assert.Equal(t, "4.2.1-stable", got[1].Tag)
}

func TestFetchRecentStableServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	got, err := NewClient(server.URL).FetchRecentStable(context.Background(), 5)
	assert.Empty(t, got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoReleases))
}

func TestFetchRecentStableMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"not": "an array"`))
	}))
	defer server.Close()

	got, err := NewClient(server.URL).FetchRecentStable(context.Background(), 5)
	assert.Empty(t, got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoReleases))
}

func TestFetchRecentStableUnreachable(t *testing.T) {
	// Port is closed immediately, forcing a transport error.
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	got, err := NewClient(server.URL).FetchRecentStable(context.Background(), 5)
	assert.Empty(t, got)
	assert.True(t, errors.Is(err, ErrNoReleases))
}
