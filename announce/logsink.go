package announce

import (
	"fmt"

	"github.com/colorfulnotion/jamjit/log"
)

// LogSink writes announcements to the announce log module at debug level.
type LogSink struct{}

// Announce implements jit.Announcer.
func (LogSink) Announce(addr uintptr, size int, name string) {
	log.Debug(log.AnnounceModule, "code announced", "name", name, "addr", fmt.Sprintf("0x%x", addr), "size", size)
	observe("log", nil)
}
