// Package escpos builds the ESC/POS control sequences understood by 58mm
// thermal receipt printers.
package escpos

// ESC/POS commands
const (
	ESC byte = 0x1B
	GS  byte = 0x1D
	LF  byte = 0x0A
)

// Alignment is the ESC a argument
type Alignment byte

const (
	AlignLeft   Alignment = 0
	AlignCenter Alignment = 1
	AlignRight  Alignment = 2
)

// Print mode bits for ESC ! n
const (
	ModeFontB        byte = 0x01
	ModeEmphasized   byte = 0x08
	ModeDoubleHeight byte = 0x10
	ModeDoubleWidth  byte = 0x20
	ModeUnderline    byte = 0x80
)

// Reset returns ESC @, which clears the print buffer and resets all modes
func Reset() []byte {
	return []byte{ESC, '@'}
}

// PrintMode returns ESC ! n
func PrintMode(n byte) []byte {
	return []byte{ESC, '!', n}
}

// Align returns ESC a n
func Align(a Alignment) []byte {
	if a > AlignRight {
		a = AlignLeft
	}
	return []byte{ESC, 'a', byte(a)}
}

// Bold returns ESC E n
func Bold(enabled bool) []byte {
	if enabled {
		return []byte{ESC, 'E', 1}
	}
	return []byte{ESC, 'E', 0}
}

// FullCut returns GS V 0
func FullCut() []byte {
	return []byte{GS, 'V', 0}
}

// Feed returns n line feeds. Zero or negative n still yields one feed so
// the result is never empty.
func Feed(n int) []byte {
	if n < 1 {
		n = 1
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = LF
	}
	return out
}
