package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/colorfulnotion/jamjit/modcomp"
)

// artifactSummary is the JSON view of a cache artifact shared by inspect,
// diff and the console.
type artifactSummary struct {
	Module      string          `json:"module"`
	Version     uint16          `json:"version"`
	CPU         string          `json:"cpu"`
	FeatureHash string          `json:"feature_hash"`
	Digest      string          `json:"digest"`
	Align       int             `json:"align"`
	CodeSize    int             `json:"code_size"`
	Symbols     []symbolSummary `json:"symbols"`
	Relocs      []relocSummary  `json:"relocs"`
}

type symbolSummary struct {
	Name   string `json:"name"`
	Offset int    `json:"offset"`
	Size   int    `json:"size"`
}

type relocSummary struct {
	Offset int    `json:"offset"`
	From   string `json:"from"`
	Symbol string `json:"symbol"`
	Kind   string `json:"kind"`
	Addend int64  `json:"addend,omitempty"`
}

// codeDigest fingerprints the machine code alone, so builds can be
// compared across header changes.
func codeDigest(code []byte) string {
	sum := blake2b.Sum256(code)
	return hex.EncodeToString(sum[:])
}

func describe(h modcomp.Header, obj *modcomp.Object) artifactSummary {
	s := artifactSummary{
		Module:      obj.Module,
		Version:     h.Version,
		CPU:         h.CPU,
		FeatureHash: fmt.Sprintf("%016x", h.FeatureHash),
		Digest:      codeDigest(obj.Code),
		Align:       obj.Align,
		CodeSize:    len(obj.Code),
		Symbols:     make([]symbolSummary, 0, len(obj.Symbols)),
		Relocs:      make([]relocSummary, 0, len(obj.Relocs)),
	}
	for _, sym := range obj.Symbols {
		s.Symbols = append(s.Symbols, symbolSummary{Name: sym.Name, Offset: sym.Offset, Size: sym.Size})
	}
	for _, r := range obj.Relocs {
		s.Relocs = append(s.Relocs, relocSummary{
			Offset: r.Offset,
			From:   symbolAt(obj, r.Offset),
			Symbol: r.Symbol,
			Kind:   r.Kind.String(),
			Addend: r.Addend,
		})
	}
	return s
}

// symbolAt names the symbol whose code contains off, or "" for padding.
func symbolAt(obj *modcomp.Object, off int) string {
	for _, sym := range obj.Symbols {
		if off >= sym.Offset && off < sym.Offset+sym.Size {
			return sym.Name
		}
	}
	return ""
}

func loadSummary(path string) (artifactSummary, error) {
	h, obj, err := modcomp.ReadArtifact(path)
	if err != nil {
		return artifactSummary{}, err
	}
	return describe(h, obj), nil
}

func (s artifactSummary) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
