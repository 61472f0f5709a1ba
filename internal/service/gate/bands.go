package gate

import (
	"fmt"
)

// Band labels values at or above Min.
type Band struct {
	Min   int64  `json:"min" yaml:"min"`
	Label string `json:"label" yaml:"label"`
}

// Bands is a classification table ordered by Min, highest first.
type Bands []Band

// DefaultCoverageBands maps coverage percentages to badge colors.
var DefaultCoverageBands = Bands{
	{Min: 90, Label: "brightgreen"},
	{Min: 80, Label: "green"},
	{Min: 70, Label: "yellow"},
	{Min: 60, Label: "orange"},
	{Min: 0, Label: "red"},
}

// Validate rejects empty tables, tables not strictly descending by Min,
// unlabeled bands and tables without a catch-all band (last Min <= 0).
func (b Bands) Validate() error {
	if len(b) == 0 {
		return fmt.Errorf("%w: band table is empty", ErrConfig)
	}
	for i, band := range b {
		if band.Label == "" {
			return fmt.Errorf("%w: band %d has no label", ErrConfig, i)
		}
		if i > 0 && band.Min >= b[i-1].Min {
			return fmt.Errorf("%w: band %q (min %d) must be below %q (min %d)",
				ErrConfig, band.Label, band.Min, b[i-1].Label, b[i-1].Min)
		}
	}
	if last := b[len(b)-1]; last.Min > 0 {
		return fmt.Errorf("%w: no catch-all band (lowest min is %d, want <= 0)", ErrConfig, last.Min)
	}
	return nil
}

// ClassifyBand returns the label of the first band whose Min <= value.
func ClassifyBand(value int64, bands Bands) (string, error) {
	for _, band := range bands {
		if band.Min <= value {
			return band.Label, nil
		}
	}
	return "", fmt.Errorf("%w: no band matches %d", ErrConfig, value)
}
