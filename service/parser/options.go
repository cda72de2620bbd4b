package parser

import "time"

// Nairobi is East Africa Time. Kenya does not observe daylight saving, so a
// fixed zone avoids depending on the host tz database.
var Nairobi = time.FixedZone("EAT", 3*60*60)

type options struct {
	now func() time.Time
	loc *time.Location
}

// Option configures a provider parser or registry.
type Option func(*options)

// WithClock injects the current-time source used for fallback timestamps and ids.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLocation sets the zone in which embedded message timestamps are read.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		now: time.Now,
		loc: Nairobi,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
