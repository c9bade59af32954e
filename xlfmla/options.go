package xlfmla

import (
	"io"
	"math/rand"
	"strings"
	"time"
)

// DefaultMaxDepth bounds nested cell evaluation.
const DefaultMaxDepth = 256

// Options contains options for parsing and evaluating formulas.
type Options struct {
	// Logfile is an open file to which messages and diagnostics are written.
	Logfile io.Writer

	// Verbosity increases the volume of trace material written to the logfile.
	Verbosity int

	// Format selects the binary token layout. The default is BIFF8.
	Format *Format

	// MaxDepth is the deepest chain of formula cells evaluated through one
	// another before RecursionDepthExceeded is reported.
	MaxDepth int

	// Datemode is 0 for the 1900 date system and 1 for 1904.
	Datemode int

	// Clock supplies the time for NOW and TODAY.
	Clock func() time.Time

	// Rand supplies RAND values in [0, 1).
	Rand func() float64

	// AddIns maps add-in function names to implementations. Names are
	// matched case-insensitively.
	AddIns map[string]FuncImpl

	// Locale translates function names and literals in formula text.
	// Nil means the built-in English names.
	Locale *Locale
}

func (o *Options) withDefaults() *Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.Logfile == nil {
		out.Logfile = io.Discard
	}
	if out.Format == nil {
		out.Format = BIFF8
	}
	if out.MaxDepth <= 0 {
		out.MaxDepth = DefaultMaxDepth
	}
	if out.Clock == nil {
		out.Clock = time.Now
	}
	if out.Rand == nil {
		out.Rand = rand.Float64
	}
	if len(out.AddIns) > 0 {
		addIns := make(map[string]FuncImpl, len(out.AddIns))
		for name, impl := range out.AddIns {
			addIns[strings.ToUpper(name)] = impl
		}
		out.AddIns = addIns
	}
	return &out
}

func (o *Options) codec() *Codec {
	return &Codec{Format: o.Format, Logfile: o.Logfile, Verbosity: o.Verbosity}
}
