package jit

import (
	"fmt"

	"github.com/colorfulnotion/jamjit/log"
)

// Announcer receives the placement of every successfully built unit, for
// symbolication and profiling tools. Announce must not block for long; its
// outcome never affects the build.
type Announcer interface {
	Announce(addr uintptr, size int, name string)
}

// AnnouncerFunc adapts a function to Announcer.
type AnnouncerFunc func(addr uintptr, size int, name string)

// Announce implements Announcer.
func (f AnnouncerFunc) Announce(addr uintptr, size int, name string) { f(addr, size, name) }

// MultiAnnouncer fans out to every non-nil announcer in order.
func MultiAnnouncer(as ...Announcer) Announcer {
	out := make(multiAnnouncer, 0, len(as))
	for _, a := range as {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

type multiAnnouncer []Announcer

func (m multiAnnouncer) Announce(addr uintptr, size int, name string) {
	for _, a := range m {
		SafeAnnounce(a, addr, size, name)
	}
}

// SafeAnnounce calls a and swallows any panic from the sink.
func SafeAnnounce(a Announcer, addr uintptr, size int, name string) {
	if a == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn(log.AnnounceModule, "announcer panicked", "name", name, "addr", fmt.Sprintf("0x%x", addr), "panic", r)
		}
	}()
	a.Announce(addr, size, name)
}
