package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"

	"github.com/colorfulnotion/jamjit/jit"
	"github.com/colorfulnotion/jamjit/modcomp"
)

func newInspectCmd(g *globals) *cobra.Command {
	var (
		disasm bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "inspect <artifact>",
		Short: "Print the symbols and relocations of a cache artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, obj, err := modcomp.ReadArtifact(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				b, err := describe(h, obj).JSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), artifactTree(h, obj, disasm).String())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&disasm, "disasm", "d", false, "disassemble every symbol")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print a JSON summary instead of a tree")
	return cmd
}

func artifactTree(h modcomp.Header, obj *modcomp.Object, disasm bool) treeprint.Tree {
	tree := treeprint.NewWithRoot(fmt.Sprintf("%s v%d cpu=%s hash=%016x code=%dB align=%d",
		obj.Module, h.Version, h.CPU, h.FeatureHash, len(obj.Code), obj.Align))
	tree.AddMetaNode("blake2b", codeDigest(obj.Code))

	syms := tree.AddBranch(fmt.Sprintf("symbols (%d)", len(obj.Symbols)))
	for _, s := range obj.Symbols {
		meta := fmt.Sprintf("+0x%04x %dB", s.Offset, s.Size)
		if !disasm {
			syms.AddMetaNode(meta, s.Name)
			continue
		}
		br := syms.AddMetaBranch(meta, s.Name)
		end := s.Offset + s.Size
		if s.Offset < 0 || end > len(obj.Code) {
			br.AddNode("<out of range>")
			continue
		}
		for _, line := range strings.Split(strings.TrimRight(jit.Disassemble(obj.Code[s.Offset:end]), "\n"), "\n") {
			br.AddNode(line)
		}
	}

	if len(obj.Relocs) > 0 {
		rels := tree.AddBranch(fmt.Sprintf("relocs (%d)", len(obj.Relocs)))
		for _, r := range obj.Relocs {
			node := r.Symbol
			if r.Addend != 0 {
				node = fmt.Sprintf("%s%+d", r.Symbol, r.Addend)
			}
			rels.AddMetaNode(fmt.Sprintf("+0x%04x %s", r.Offset, r.Kind), node)
		}
	}
	return tree
}
