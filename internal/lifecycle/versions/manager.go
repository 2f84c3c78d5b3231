// Package versions implements semantic version policy for plugin packages:
// validation on publish, conflict detection against the existing version set
// and rollback target selection.
package versions

import (
	"context"
	"errors"
	"fmt"
	"sort"

	goversion "github.com/hashicorp/go-version"

	"github.com/naap-platform/naap-runtime/internal/db/models"
)

// MaxMajor caps the major component. Anything above it is a typo or an
// injection attempt, not a release.
const MaxMajor = 100

var (
	// ErrVersionInvalid is returned for strings that do not parse as semver
	// or exceed the major ceiling.
	ErrVersionInvalid = errors.New("versions: invalid version")
	// ErrVersionConflict is the sentinel every Conflict unwraps to.
	ErrVersionConflict = errors.New("versions: version conflict")
	// ErrNoRollbackTarget is returned when no earlier usable version exists.
	ErrNoRollbackTarget = errors.New("versions: no rollback target")
)

// ConflictKind distinguishes why a candidate version was rejected.
type ConflictKind string

const (
	// ConflictExistsLive means the exact version is already published.
	ConflictExistsLive ConflictKind = "exists_live"
	// ConflictExistsDeprecated means the exact version exists but was
	// deprecated; deprecated version numbers are never reusable.
	ConflictExistsDeprecated ConflictKind = "exists_deprecated"
	// ConflictOlderThanStable means a stable candidate is numerically below
	// the latest stable version.
	ConflictOlderThanStable ConflictKind = "older_than_stable"
)

// Conflict reports a version collision. It wraps ErrVersionConflict so
// callers can branch on the sentinel or inspect Kind for the cause.
type Conflict struct {
	Kind     ConflictKind
	Existing string // the colliding version, or the latest stable
}

func (c *Conflict) Error() string {
	switch c.Kind {
	case ConflictExistsDeprecated:
		return fmt.Sprintf("versions: %s already exists and is deprecated", c.Existing)
	case ConflictExistsLive:
		return fmt.Sprintf("versions: %s already exists", c.Existing)
	default:
		return fmt.Sprintf("versions: older than current stable %s", c.Existing)
	}
}

func (c *Conflict) Unwrap() error { return ErrVersionConflict }

// VersionLister is the slice of the plugin repository the manager needs.
type VersionLister interface {
	ListVersions(ctx context.Context, packageID string) ([]*models.PluginVersion, error)
}

// Manager applies version policy against stored package versions.
type Manager struct {
	repo VersionLister
}

// NewManager creates a Manager backed by the given lister.
func NewManager(repo VersionLister) *Manager {
	return &Manager{repo: repo}
}

// Validate parses a version string and enforces the major ceiling. The
// canonical form (no leading "v") is returned.
func Validate(raw string) (*goversion.Version, error) {
	v, err := goversion.NewSemver(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrVersionInvalid, raw)
	}
	if v.Segments()[0] > MaxMajor {
		return nil, fmt.Errorf("%w: major %d exceeds ceiling %d", ErrVersionInvalid, v.Segments()[0], MaxMajor)
	}
	return v, nil
}

// CheckConflict validates a candidate version and verifies it can be
// published into the package. Exact matches collide regardless of spelling
// ("1.2.0" conflicts with "v1.2.0"), and a stable candidate must exceed the
// latest non-deprecated stable version. Prereleases are exempt from the
// ordering rule so a prerelease channel can trail the stable line.
func (m *Manager) CheckConflict(ctx context.Context, packageID, candidate string) error {
	cand, err := Validate(candidate)
	if err != nil {
		return err
	}

	existing, err := m.repo.ListVersions(ctx, packageID)
	if err != nil {
		return err
	}

	var latestStable *goversion.Version
	var latestStableRaw string
	for _, ev := range existing {
		v, err := goversion.NewSemver(ev.Version)
		if err != nil {
			// Stored versions predate validation; skip unparseable rows.
			continue
		}
		if v.Equal(cand) {
			kind := ConflictExistsLive
			if ev.Deprecated {
				kind = ConflictExistsDeprecated
			}
			return &Conflict{Kind: kind, Existing: ev.Version}
		}
		if !ev.Deprecated && v.Prerelease() == "" {
			if latestStable == nil || v.GreaterThan(latestStable) {
				latestStable = v
				latestStableRaw = ev.Version
			}
		}
	}

	if cand.Prerelease() == "" && latestStable != nil && cand.LessThan(latestStable) {
		return &Conflict{Kind: ConflictOlderThanStable, Existing: latestStableRaw}
	}
	return nil
}

// RollbackTarget returns the highest non-deprecated version strictly below
// current. Deprecated versions are never rollback candidates.
func (m *Manager) RollbackTarget(ctx context.Context, packageID, current string) (*models.PluginVersion, error) {
	cur, err := Validate(current)
	if err != nil {
		return nil, err
	}

	existing, err := m.repo.ListVersions(ctx, packageID)
	if err != nil {
		return nil, err
	}

	type parsed struct {
		row *models.PluginVersion
		ver *goversion.Version
	}
	candidates := make([]parsed, 0, len(existing))
	for _, ev := range existing {
		if ev.Deprecated {
			continue
		}
		v, err := goversion.NewSemver(ev.Version)
		if err != nil {
			continue
		}
		if v.LessThan(cur) {
			candidates = append(candidates, parsed{row: ev, ver: v})
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoRollbackTarget
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ver.GreaterThan(candidates[j].ver)
	})
	return candidates[0].row, nil
}
