package widget

import "strconv"

const (
	kib = 1024
	mib = 1024 * kib
	gib = 1024 * mib
)

// FormatSize renders a byte count the way the status list shows it: 2MB, 500KB, 12b.
func FormatSize(size int64) string {
	switch {
	case size < 0:
		return "N/A"
	case size >= gib:
		return strconv.FormatInt(roundDiv(size, gib), 10) + "GB"
	case size >= mib:
		return strconv.FormatInt(roundDiv(size, mib), 10) + "MB"
	case size >= kib:
		return strconv.FormatInt(roundDiv(size, kib), 10) + "KB"
	}
	return strconv.FormatInt(size, 10) + "b"
}

func roundDiv(n, d int64) int64 {
	return (n + d/2) / d
}
