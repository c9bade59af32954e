package xlfmla

// Format describes the limits and token sizes of one binary formula
// encoding. Legacy or future encodings plug in a different table instead of
// changing the codec.
type Format struct {
	Name string

	// MaxRows and MaxCols bound decoded absolute references.
	MaxRows int
	MaxCols int

	// MaxStringLen is the longest string literal, in characters.
	MaxStringLen int

	// MaxArgs is the largest argument count of a function call.
	MaxArgs int

	// Sizes gives the token size, opcode byte included, per base opcode
	// 0x00..0x3F: -1 means self-describing, -2 means not supported.
	Sizes [64]int
}

// BIFF8 is the Excel 97-2003 encoding.
var BIFF8 = &Format{
	Name:         "BIFF8",
	MaxRows:      65536,
	MaxCols:      256,
	MaxStringLen: 255,
	MaxArgs:      30,
	Sizes: [64]int{
		-2, 5, 5, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1,
		1, 1, 1, 1, 1, 1, 1, -1, -2, -1, -2, -2, 2, 2, 3, 9,
		8, 3, 4, 5, 5, 9, 7, 7, 7, 3, 5, 9, 5, 9, 3, 3,
		-2, -2, -2, -2, -2, -2, -2, -2, -2, 7, 7, 11, 7, 11, -2, -2,
	},
}

// supports reports whether base is a known token in f.
func (f *Format) supports(base byte) bool {
	return int(base) < len(f.Sizes) && f.Sizes[base] != -2
}

// rowOK and colOK validate absolute coordinates.
func (f *Format) rowOK(row int) bool { return row >= 0 && row < f.MaxRows }
func (f *Format) colOK(col int) bool { return col >= 0 && col < f.MaxCols }
