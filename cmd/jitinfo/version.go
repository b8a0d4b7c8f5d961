package main

import (
	"fmt"
	"os"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "jitinfo %s (%s)\n", Version, commitHash())
		},
	}
}

// commitHash returns the linked-in commit, or the HEAD of a checkout
// containing the working directory or the binary.
func commitHash() string {
	if Commit != "none" {
		return Commit
	}
	candidates := []string{}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, cwd)
	}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Dir(exe))
	}
	for _, path := range candidates {
		if hash := headHash(path); hash != "" {
			return hash
		}
	}
	return "unknown"
}

func headHash(path string) string {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	if h := head.Hash().String(); len(h) > 8 {
		return h[:8]
	}
	return head.Hash().String()
}
