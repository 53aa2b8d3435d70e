// Package util has small helpers shared by the verbose tracing paths.
package util

import (
	"fmt"
	"strings"
)

// HexDump formats data as a classic 16-bytes-per-row hex dump with an
// ASCII gutter.
func HexDump(data []byte) string {
	var b strings.Builder
	for off := 0; off < len(data); off += 16 {
		row := data[off:min(off+16, len(data))]

		fmt.Fprintf(&b, "%04x  ", off)
		for i := 0; i < 16; i++ {
			if i < len(row) {
				fmt.Fprintf(&b, "%02x ", row[i])
			} else {
				b.WriteString("   ")
			}
			if i == 7 {
				b.WriteByte(' ')
			}
		}

		b.WriteString(" |")
		for _, c := range row {
			if c < 32 || c > 126 {
				c = '.'
			}
			b.WriteByte(c)
		}
		b.WriteString("|\n")
	}
	return b.String()
}

// PrintHexDump writes a hex dump of data to stdout.
func PrintHexDump(data []byte) {
	fmt.Print(HexDump(data))
}
