// Package qrpair renders a session's attach URL as a terminal QR code,
// so `lineforge new` can be paired with a phone instantly when bind
// resolves to a tsnet address.
//
// Uses Unicode half-block characters for correct aspect ratio since
// terminal characters are approximately 2:1 (height:width).
package qrpair

import (
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
)

// MinWidth and MinHeight are the terminal dimensions quoted in
// GenerateLines' fallback message. GenerateLines does not compare
// against them: it falls back whenever no recovery level yields a QR
// code within maxWidth x maxHeight.
const (
	MinWidth  = 60
	MinHeight = 30
)

// GenerateLines renders the attach URL as a QR code sized to fit
// within maxWidth x maxHeight terminal cells, trying recovery levels
// from highest to lowest quality until one fits. inverted swaps which
// modules render dark, for light-on-dark terminal themes.
func GenerateLines(url string, maxWidth, maxHeight uint16, inverted bool) []string {
	levels := []qrcode.RecoveryLevel{qrcode.High, qrcode.Medium, qrcode.Low}

	for _, level := range levels {
		qr, err := qrcode.New(url, level)
		if err != nil {
			continue
		}

		bitmap := qr.Bitmap()
		if len(bitmap) == 0 || len(bitmap[0]) == 0 {
			continue
		}

		size := len(bitmap)
		qrWidth := uint16(size)
		qrHeight := uint16((size + 1) / 2) // two QR rows per terminal row

		if qrWidth > maxWidth || qrHeight > maxHeight {
			continue
		}
		return render(bitmap, size, inverted)
	}

	return []string{
		"QR code too large for terminal",
		"Please resize your terminal window",
		fmt.Sprintf("(need at least %dx%d characters)", MinWidth, MinHeight),
	}
}

func render(bitmap [][]bool, size int, inverted bool) []string {
	lines := make([]string, 0, (size+1)/2)

	for rowPair := 0; rowPair < (size+1)/2; rowPair++ {
		upperY := rowPair * 2
		lowerY := rowPair*2 + 1

		var sb strings.Builder
		sb.Grow(size * 3) // UTF-8 block chars are 3 bytes

		for x := 0; x < size; x++ {
			upper := bitmap[upperY][x]
			lower := false
			if lowerY < size {
				lower = bitmap[lowerY][x]
			}
			if inverted {
				upper, lower = !upper, !lower
			}

			// Dark-on-dark renders as a full block, dark-on-light as a
			// half block, light-on-light as a space.
			var ch rune
			switch {
			case upper && lower:
				ch = '█'
			case upper && !lower:
				ch = '▀'
			case !upper && lower:
				ch = '▄'
			default:
				ch = ' '
			}
			sb.WriteRune(ch)
		}
		lines = append(lines, sb.String())
	}
	return lines
}

// Dimensions returns the expected terminal footprint (columns, rows)
// of a QR code for url, or (0, 0) if encoding fails.
func Dimensions(url string) (uint16, uint16) {
	qr, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return 0, 0
	}
	bitmap := qr.Bitmap()
	if len(bitmap) == 0 {
		return 0, 0
	}
	size := len(bitmap)
	return uint16(size), uint16((size + 1) / 2)
}

