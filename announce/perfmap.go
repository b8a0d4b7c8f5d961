package announce

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/colorfulnotion/jamjit/log"
)

// PerfMapPath returns where perf looks for the JIT symbols of pid.
func PerfMapPath(dir string, pid int) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, fmt.Sprintf("perf-%d.map", pid))
}

// PerfMap appends "START SIZE name" lines in the format perf reads from
// /tmp/perf-<pid>.map.
type PerfMap struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

// OpenPerfMap opens (appending) the perf map for this process in dir; an
// empty dir selects the system temp directory.
func OpenPerfMap(dir string) (*PerfMap, error) {
	return OpenPerfMapFile(PerfMapPath(dir, os.Getpid()))
}

// OpenPerfMapFile opens a perf map at an explicit path.
func OpenPerfMapFile(path string) (*PerfMap, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("perf map %s: %w", path, err)
	}
	return &PerfMap{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// Path returns the file being written.
func (p *PerfMap) Path() string { return p.path }

// Announce implements jit.Announcer. Each line is flushed immediately so a
// profiler attached at any time sees every symbol.
func (p *PerfMap) Announce(addr uintptr, size int, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.f == nil {
		return
	}
	_, err := fmt.Fprintf(p.w, "%x %x %s\n", addr, size, sanitizeSymbol(name))
	if err == nil {
		err = p.w.Flush()
	}
	observe("perfmap", err)
	if err != nil {
		log.Warn(log.AnnounceModule, "perf map write failed", "path", p.path, "err", err)
	}
}

// Close flushes and closes the file.
func (p *PerfMap) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.f == nil {
		return nil
	}
	err := p.w.Flush()
	if cerr := p.f.Close(); err == nil {
		err = cerr
	}
	p.f = nil
	return err
}

// sanitizeSymbol keeps one record per line.
func sanitizeSymbol(name string) string {
	if name == "" {
		return "anonymous"
	}
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, name)
}

// ParsePerfMap reads the records of a perf map file.
func ParsePerfMap(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		fields := strings.SplitN(sc.Text(), " ", 3)
		if len(fields) != 3 {
			return out, fmt.Errorf("%s:%d: malformed line", path, line)
		}
		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			return out, fmt.Errorf("%s:%d: address: %w", path, line, err)
		}
		size, err := strconv.ParseUint(fields[1], 16, 32)
		if err != nil {
			return out, fmt.Errorf("%s:%d: size: %w", path, line, err)
		}
		out = append(out, Record{Addr: addr, Size: uint32(size), Name: fields[2]})
	}
	return out, sc.Err()
}
