// Package win32 implements foreground, idle and media-session queries on
// Windows.
package win32

import "time"

// IdleSince converts GetLastInputInfo's 32-bit tick into an idle duration
// against the 64-bit tick count. The input tick wraps every 49.7 days, so
// only the low 32 bits of now are compared.
func IdleSince(now uint64, lastInput uint32) time.Duration {
	return time.Duration(uint32(now)-lastInput) * time.Millisecond
}
