package versions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naap-platform/naap-runtime/internal/db/models"
)

type stubLister struct {
	versions []*models.PluginVersion
	err      error
}

func (s *stubLister) ListVersions(ctx context.Context, packageID string) ([]*models.PluginVersion, error) {
	return s.versions, s.err
}

func v(version string, deprecated bool) *models.PluginVersion {
	return &models.PluginVersion{Version: version, Deprecated: deprecated}
}

func TestValidate(t *testing.T) {
	valid := []string{"1.0.0", "v2.3.4", "0.1.0-beta.1", "100.0.0"}
	for _, s := range valid {
		_, err := Validate(s)
		assert.NoError(t, err, "Validate(%q)", s)
	}

	invalid := []string{"", "not-a-version", "1.2.3.4.5.whatever", "101.0.0", "999.1.1"}
	for _, s := range invalid {
		_, err := Validate(s)
		assert.ErrorIs(t, err, ErrVersionInvalid, "Validate(%q)", s)
	}
}

func TestCheckConflict(t *testing.T) {
	m := NewManager(&stubLister{versions: []*models.PluginVersion{
		v("1.0.0", false),
		v("1.1.0", false),
	}})

	assert.NoError(t, m.CheckConflict(context.Background(), "pkg-1", "1.2.0"))
	assert.ErrorIs(t, m.CheckConflict(context.Background(), "pkg-1", "1.1.0"), ErrVersionConflict)
	// Equivalent spellings collide too.
	assert.ErrorIs(t, m.CheckConflict(context.Background(), "pkg-1", "v1.1.0"), ErrVersionConflict)
	assert.ErrorIs(t, m.CheckConflict(context.Background(), "pkg-1", "nope"), ErrVersionInvalid)
}

func TestCheckConflict_Kinds(t *testing.T) {
	m := NewManager(&stubLister{versions: []*models.PluginVersion{
		v("1.0.0", true),
		v("1.2.0", false),
	}})

	var c *Conflict
	err := m.CheckConflict(context.Background(), "pkg-1", "1.2.0")
	require.ErrorAs(t, err, &c)
	assert.Equal(t, ConflictExistsLive, c.Kind)

	err = m.CheckConflict(context.Background(), "pkg-1", "1.0.0")
	require.ErrorAs(t, err, &c)
	assert.Equal(t, ConflictExistsDeprecated, c.Kind)
}

func TestCheckConflict_StableOrdering(t *testing.T) {
	m := NewManager(&stubLister{versions: []*models.PluginVersion{
		v("1.2.0", false),
	}})

	var c *Conflict
	err := m.CheckConflict(context.Background(), "pkg-1", "1.1.0")
	require.ErrorAs(t, err, &c)
	assert.Equal(t, ConflictOlderThanStable, c.Kind)
	assert.Equal(t, "1.2.0", c.Existing)
	assert.ErrorIs(t, err, ErrVersionConflict)

	// Prereleases may trail the stable line.
	assert.NoError(t, m.CheckConflict(context.Background(), "pkg-1", "1.1.0-beta.1"))
	assert.NoError(t, m.CheckConflict(context.Background(), "pkg-1", "1.3.0"))
}

func TestCheckConflict_DeprecatedStableIgnoredForOrdering(t *testing.T) {
	m := NewManager(&stubLister{versions: []*models.PluginVersion{
		v("1.0.0", false),
		v("1.2.0", true), // deprecated, not the current stable
	}})

	assert.NoError(t, m.CheckConflict(context.Background(), "pkg-1", "1.1.0"))
}

func TestCheckConflict_ListError(t *testing.T) {
	m := NewManager(&stubLister{err: errors.New("db down")})
	assert.Error(t, m.CheckConflict(context.Background(), "pkg-1", "1.0.0"))
}

func TestRollbackTarget(t *testing.T) {
	m := NewManager(&stubLister{versions: []*models.PluginVersion{
		v("1.0.0", false),
		v("1.1.0", true), // deprecated, never a target
		v("1.2.0", false),
		v("2.0.0", false),
	}})

	got, err := m.RollbackTarget(context.Background(), "pkg-1", "2.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", got.Version)

	// From 1.2.0 the deprecated 1.1.0 is skipped.
	got, err = m.RollbackTarget(context.Background(), "pkg-1", "1.2.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", got.Version)
}

func TestRollbackTarget_None(t *testing.T) {
	m := NewManager(&stubLister{versions: []*models.PluginVersion{
		v("1.0.0", false),
	}})

	_, err := m.RollbackTarget(context.Background(), "pkg-1", "1.0.0")
	assert.ErrorIs(t, err, ErrNoRollbackTarget)
}
