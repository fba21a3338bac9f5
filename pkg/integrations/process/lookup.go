package process

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrExited is returned when the process disappeared while it was being
// looked up.
var ErrExited = errors.New("process exited")

const defaultCacheSize = 256

// procKey identifies a process instance. The start time guards against pid
// reuse returning a stale cached name.
type procKey struct {
	pid   int
	start uint64
}

// Lookup resolves pids to process names through /proc, caching by
// (pid, start time).
type Lookup struct {
	procRoot string
	cache    *lru.Cache[procKey, string]
}

// NewLookup creates a Lookup reading from /proc
func NewLookup(cacheSize int) (*Lookup, error) {
	return newLookup("/proc", cacheSize)
}

func newLookup(procRoot string, cacheSize int) (*Lookup, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[procKey, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create process name cache: %w", err)
	}
	return &Lookup{procRoot: procRoot, cache: cache}, nil
}

// IsAvailable reports whether the proc filesystem can be read
func (l *Lookup) IsAvailable() bool {
	_, err := os.Stat(l.procRoot)
	return err == nil
}

// Name returns the executable name for pid. It prefers the basename of the
// exe link and falls back to the command name from stat, which the kernel
// truncates to 15 bytes.
func (l *Lookup) Name(pid int) (string, error) {
	if pid <= 0 {
		return "", fmt.Errorf("invalid pid %d", pid)
	}

	info, err := l.readStat(pid)
	if err != nil {
		return "", err
	}

	key := procKey{pid: pid, start: info.start}
	if name, ok := l.cache.Get(key); ok {
		return name, nil
	}

	name := info.name
	if exe, err := os.Readlink(filepath.Join(l.procRoot, strconv.Itoa(pid), "exe")); err == nil {
		exe = strings.TrimSuffix(exe, " (deleted)")
		if base := filepath.Base(exe); base != "." && base != "/" {
			name = base
		}
	}

	if name == "" {
		return "", ErrExited
	}

	l.cache.Add(key, name)
	return name, nil
}

type statInfo struct {
	name  string
	start uint64
}

func (l *Lookup) readStat(pid int) (*statInfo, error) {
	statPath := filepath.Join(l.procRoot, strconv.Itoa(pid), "stat")
	data, err := os.ReadFile(statPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrExited
		}
		return nil, fmt.Errorf("failed to read %s: %w", statPath, err)
	}
	return parseStat(string(data))
}

// parseStat parses /proc/<pid>/stat. The command name sits in parentheses
// and may itself contain spaces and parentheses, so fields are counted from
// the last ')'.
func parseStat(statStr string) (*statInfo, error) {
	startIdx := strings.Index(statStr, "(")
	endIdx := strings.LastIndex(statStr, ")")
	if startIdx == -1 || endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("malformed stat line")
	}

	info := &statInfo{name: statStr[startIdx+1 : endIdx]}

	// Field 3 (state) is fields[0], so starttime (field 22) is fields[19].
	fields := strings.Fields(statStr[endIdx+1:])
	if len(fields) < 20 {
		return nil, fmt.Errorf("stat line has %d fields after command name", len(fields))
	}

	start, err := strconv.ParseUint(fields[19], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid start time %q: %w", fields[19], err)
	}
	info.start = start

	return info, nil
}
