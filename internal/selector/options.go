package selector

// Options tunes selector synthesis. The zero value is not usable; start from
// DefaultOptions and override individual fields from configuration.
type Options struct {
	// SeedMinLength is the number of ancestor levels collected before the
	// first uniqueness attempt.
	SeedMinLength int
	// OptimizedMinLength is the path length below which the optimize pass
	// stops removing levels.
	OptimizedMinLength int
	// Threshold caps the number of level combinations tried per search
	// limit before falling back to a narrower limit.
	Threshold int
	// MaxNumberOfTries bounds the level removals attempted while optimizing.
	MaxNumberOfTries int
	// MaxDepth bounds how many shadow/frame boundaries are crossed.
	MaxDepth int
	// ListDepth is the number of ancestor levels in a list-mode selector.
	ListDepth int
}

// DefaultOptions returns the tuned defaults.
func DefaultOptions() Options {
	return Options{
		SeedMinLength:      1,
		OptimizedMinLength: 2,
		Threshold:          1000,
		MaxNumberOfTries:   10000,
		MaxDepth:           4,
		ListDepth:          3,
	}
}

// withDefaults fills non-positive fields with their defaults.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SeedMinLength <= 0 {
		o.SeedMinLength = d.SeedMinLength
	}
	if o.OptimizedMinLength <= 0 {
		o.OptimizedMinLength = d.OptimizedMinLength
	}
	if o.Threshold <= 0 {
		o.Threshold = d.Threshold
	}
	if o.MaxNumberOfTries <= 0 {
		o.MaxNumberOfTries = d.MaxNumberOfTries
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = d.MaxDepth
	}
	if o.ListDepth <= 0 {
		o.ListDepth = d.ListDepth
	}
	return o
}
