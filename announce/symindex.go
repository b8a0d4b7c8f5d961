package announce

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/colorfulnotion/jamjit/jiterrors"
	"github.com/colorfulnotion/jamjit/log"
)

// SymbolIndex persists announced ranges keyed by start address so that
// raw addresses from crash dumps or samples can be symbolized later.
// LevelDB handles its own synchronization.
type SymbolIndex struct {
	db  *leveldb.DB
	seq atomic.Uint64
}

// OpenSymbolIndex opens or creates the index at path; an empty path keeps
// it in memory.
func OpenSymbolIndex(path string) (*SymbolIndex, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("symbol index %s: %w", path, err)
	}
	return &SymbolIndex{db: db}, nil
}

func addrKey(addr uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], addr)
	return k[:]
}

// Announce implements jit.Announcer.
func (s *SymbolIndex) Announce(addr uintptr, size int, name string) {
	rec := NewRecord(addr, size, name)
	rec.Seq = s.seq.Add(1)
	err := s.Put(rec)
	observe("symindex", err)
	if err != nil {
		log.Warn(log.AnnounceModule, "symbol index write failed", "name", name, "err", err)
	}
}

// Put stores rec, replacing any record starting at the same address.
func (s *SymbolIndex) Put(rec Record) error {
	val, err := msgpack.Marshal(&rec)
	if err != nil {
		return err
	}
	return s.db.Put(addrKey(rec.Addr), val, nil)
}

// Lookup returns the record whose range contains addr.
func (s *SymbolIndex) Lookup(addr uint64) (Record, error) {
	var slice *util.Range
	if addr != ^uint64(0) {
		slice = &util.Range{Limit: addrKey(addr + 1)}
	}
	iter := s.db.NewIterator(slice, nil)
	defer iter.Release()
	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("0x%x: %w", addr, jiterrors.ErrSymbolNotFound)
	}
	var rec Record
	if err := msgpack.Unmarshal(iter.Value(), &rec); err != nil {
		return Record{}, fmt.Errorf("symbol index entry 0x%x: %w", addr, err)
	}
	if !rec.Contains(addr) {
		return Record{}, fmt.Errorf("0x%x: %w", addr, jiterrors.ErrSymbolNotFound)
	}
	return rec, nil
}

// Symbolize formats addr as name+offset, or the bare address if unknown.
func (s *SymbolIndex) Symbolize(addr uint64) string {
	rec, err := s.Lookup(addr)
	if err != nil {
		return fmt.Sprintf("0x%x", addr)
	}
	if off := addr - rec.Addr; off != 0 {
		return fmt.Sprintf("%s+0x%x", rec.Name, off)
	}
	return rec.Name
}

// Records returns every stored record in address order.
func (s *SymbolIndex) Records() ([]Record, error) {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	var out []Record
	for iter.Next() {
		var rec Record
		if err := msgpack.Unmarshal(iter.Value(), &rec); err != nil {
			return out, fmt.Errorf("symbol index entry %x: %w", iter.Key(), err)
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

// Close closes the database.
func (s *SymbolIndex) Close() error {
	err := s.db.Close()
	if errors.Is(err, leveldb.ErrClosed) {
		return nil
	}
	return err
}
