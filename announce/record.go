// Package announce provides sinks for the (address, size, name) records
// produced by every successful build: a perf map file for Linux perf, a
// persistent symbol index, a websocket stream and the log.
package announce

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Record is one announced code range.
type Record struct {
	Time time.Time `json:"time" msgpack:"t"`
	Addr uint64    `json:"addr" msgpack:"a"`
	Size uint32    `json:"size" msgpack:"s"`
	Name string    `json:"name" msgpack:"n"`
	Seq  uint64    `json:"seq,omitempty" msgpack:"q,omitempty"`
}

// NewRecord stamps a record with the current time.
func NewRecord(addr uintptr, size int, name string) Record {
	return Record{Time: time.Now().UTC(), Addr: uint64(addr), Size: uint32(size), Name: name}
}

// End returns the first address past the range.
func (r Record) End() uint64 { return r.Addr + uint64(r.Size) }

// Contains reports whether addr falls inside the range.
func (r Record) Contains(addr uint64) bool { return addr >= r.Addr && addr < r.End() }

func (r Record) String() string {
	return fmt.Sprintf("%s [0x%x, 0x%x)", r.Name, r.Addr, r.End())
}

var recordFieldOrder = []string{"seq", "time", "addr", "size", "name"}

// MarshalJSON keeps a fixed field order and writes the address in hex, the
// way perf and the disassembler print it.
func (r Record) MarshalJSON() ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	writeField := func(key string, val []byte) {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(buf, `"%s":`, key)
		buf.Write(val)
	}
	for _, f := range recordFieldOrder {
		switch f {
		case "seq":
			if r.Seq != 0 {
				writeField(f, []byte(fmt.Sprint(r.Seq)))
			}
		case "time":
			b, err := json.Marshal(r.Time)
			if err != nil {
				return nil, err
			}
			writeField(f, b)
		case "addr":
			writeField(f, []byte(fmt.Sprintf(`"0x%x"`, r.Addr)))
		case "size":
			writeField(f, []byte(fmt.Sprint(r.Size)))
		case "name":
			b, _ := json.Marshal(r.Name)
			writeField(f, b)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts what MarshalJSON writes.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw struct {
		Seq  uint64    `json:"seq"`
		Time time.Time `json:"time"`
		Addr string    `json:"addr"`
		Size uint32    `json:"size"`
		Name string    `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var addr uint64
	if _, err := fmt.Sscanf(raw.Addr, "0x%x", &addr); err != nil {
		return fmt.Errorf("record addr %q: %w", raw.Addr, err)
	}
	*r = Record{Seq: raw.Seq, Time: raw.Time, Addr: addr, Size: raw.Size, Name: raw.Name}
	return nil
}
