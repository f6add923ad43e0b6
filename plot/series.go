package plot

import (
	"fmt"

	"github.com/google/uuid"
)

// Series is a read-only, versioned view of (x, y) pairs owned by the
// tabular data collaborator. A series with a given version must never be
// mutated in place; producers publish a new version instead.
type Series interface {
	// ID identifies the logical series across versions.
	ID() string

	// Version increases every time the underlying data changes.
	Version() uint64

	Len() int
	X() []float64
	Y() []float64

	// Values returns the optional per-point value column used for
	// mean-value aggregation and coloring. It is nil when absent.
	Values() []float64
}

// VersionedSeries is a copy-on-write Series backed by float64 columns.
type VersionedSeries struct {
	id      string
	version uint64
	x, y    []float64
	values  []float64
}

var _ Series = (*VersionedSeries)(nil)

// NewSeries creates version 1 of a series with a fresh ID.
// The slices are retained, not copied; the caller must not modify them.
func NewSeries(x, y []float64) (*VersionedSeries, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("series columns differ in length (x=%d, y=%d): %w",
			len(x), len(y), ErrConfiguration)
	}
	return &VersionedSeries{
		id:      uuid.New().String(),
		version: 1,
		x:       x,
		y:       y,
	}, nil
}

// WithValues returns a copy of s, at the same version, carrying a value
// column.
func (s *VersionedSeries) WithValues(values []float64) (*VersionedSeries, error) {
	if values != nil && len(values) != len(s.x) {
		return nil, fmt.Errorf("value column has %d rows, series has %d: %w",
			len(values), len(s.x), ErrConfiguration)
	}
	c := *s
	c.values = values
	return &c, nil
}

// Replace publishes new data under the same ID and the next version.
// s itself is left untouched.
func (s *VersionedSeries) Replace(x, y, values []float64) (*VersionedSeries, error) {
	if len(x) != len(y) || (values != nil && len(values) != len(x)) {
		return nil, fmt.Errorf("replacement columns differ in length: %w", ErrConfiguration)
	}
	return &VersionedSeries{
		id:      s.id,
		version: s.version + 1,
		x:       x,
		y:       y,
		values:  values,
	}, nil
}

func (s *VersionedSeries) ID() string        { return s.id }
func (s *VersionedSeries) Version() uint64   { return s.version }
func (s *VersionedSeries) Len() int          { return len(s.x) }
func (s *VersionedSeries) X() []float64      { return s.x }
func (s *VersionedSeries) Y() []float64      { return s.y }
func (s *VersionedSeries) Values() []float64 { return s.values }

// Available reports whether s can be sampled. A nil series or one with
// no rows is unavailable.
func Available(s Series) error {
	if s == nil {
		return fmt.Errorf("nil series: %w", ErrDataUnavailable)
	}
	if s.Len() == 0 {
		return fmt.Errorf("series %s v%d is empty: %w", s.ID(), s.Version(), ErrDataUnavailable)
	}
	return nil
}
