package dataset

import "fmt"

// LoadError represents a failed table load. NotFound distinguishes a missing
// file path from a present-but-unreadable source, since callers degrade
// differently for the two.
type LoadError struct {
	Source   string
	NotFound bool
	Err      error
}

func (e *LoadError) Error() string {
	if e.NotFound {
		return fmt.Sprintf("source not found: %s", e.Source)
	}
	return fmt.Sprintf("failed to load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// IsTransient returns false as load errors require operator action
func (e *LoadError) IsTransient() bool {
	return false
}
