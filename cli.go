package main

import (
	"context"
	"fmt"
	"os"

	"yack/server/internal/store"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("yack server %s\n", Version)
		return true
	case "snapshots":
		return cliSnapshots(args[1:], dbPath)
	default:
		return false
	}
}

func cliSnapshots(args []string, dbPath string) bool {
	archive, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening archive: %v\n", err)
		os.Exit(1)
	}
	defer archive.Close()

	ctx := context.Background()

	if len(args) == 0 || args[0] == "list" {
		metas, err := archive.List(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(metas) == 0 {
			fmt.Println("No snapshots found.")
			return true
		}
		for _, meta := range metas {
			fmt.Printf("  %s  %s  %d bytes  %s\n", meta.ID, meta.Name, meta.SizeBytes, meta.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return true
	}

	if args[0] == "export" && len(args) > 2 {
		id, outPath := args[1], args[2]
		_, blob, err := archive.Load(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error loading snapshot: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(outPath, blob, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "error writing file: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Snapshot %s written to %s\n", id, outPath)
		return true
	}

	if args[0] == "import" && len(args) > 1 {
		inPath := args[1]
		name := "imported"
		if len(args) > 2 {
			name = args[2]
		}
		blob, err := os.ReadFile(inPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading file: %v\n", err)
			os.Exit(1)
		}
		meta, err := archive.Save(ctx, name, blob)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error saving snapshot: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Imported %s as snapshot %s\n", inPath, meta.ID)
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: server snapshots [list|export <id> <file>|import <file> [name]]\n")
	os.Exit(1)
	return true
}
