// Command bboxaccounts is the minimal account-administration tool
// scoped by spec §1: it creates and edits the on-disk account record
// directly (account_dir/account-<n>.json), with no server interaction
// of its own. Grounded on the account package's record format and on
// the teacher's small, single-purpose admin commands (e.g.
// cmd/upspin's "user" subcommand) rather than any interactive shell.
package main

import (
	"flag"
	"fmt"
	"os"

	"boxbackup.io/account"
	"boxbackup.io/box"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: bboxaccounts -account_dir=DIR COMMAND ARGS...

commands:
  create ACCOUNT_ID SOFT_LIMIT_BLOCKS HARD_LIMIT_BLOCKS
  show   ACCOUNT_ID
  setlimits ACCOUNT_ID SOFT_LIMIT_BLOCKS HARD_LIMIT_BLOCKS
`)
	os.Exit(2)
}

func main() {
	accountDir := flag.String("account_dir", "", "directory holding account-<n>.json records (required)")
	flag.Usage = usage
	flag.Parse()
	if *accountDir == "" || flag.NArg() < 2 {
		usage()
	}

	var err error
	switch flag.Arg(0) {
	case "create":
		err = create(*accountDir, flag.Args()[1:])
	case "show":
		err = show(*accountDir, flag.Args()[1:])
	case "setlimits":
		err = setLimits(*accountDir, flag.Args()[1:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "bboxaccounts: %v\n", err)
		os.Exit(1)
	}
}

func create(dir string, args []string) error {
	if len(args) != 3 {
		usage()
	}
	id, soft, hard, err := parseIDAndLimits(args)
	if err != nil {
		return err
	}
	a, err := account.Create(dir, id, soft, hard)
	if err != nil {
		return err
	}
	fmt.Printf("created account %d: soft=%d hard=%d\n", a.ID, a.SoftLimitBlocks, a.HardLimitBlocks)
	return nil
}

func show(dir string, args []string) error {
	if len(args) != 1 {
		usage()
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	a, err := account.Load(dir, id)
	if err != nil {
		return err
	}
	fmt.Printf("account %d\n  soft limit:   %d blocks\n  hard limit:   %d blocks\n  blocks used:  %d\n  store marker: %d\n  next object:  %d\n",
		a.ID, a.SoftLimitBlocks, a.HardLimitBlocks, a.Blocks.Total(), a.ClientStoreMarker, a.NextObjectID)
	return nil
}

func setLimits(dir string, args []string) error {
	if len(args) != 3 {
		usage()
	}
	id, soft, hard, err := parseIDAndLimits(args)
	if err != nil {
		return err
	}
	a, err := account.Load(dir, id)
	if err != nil {
		return err
	}
	a.SoftLimitBlocks = soft
	a.HardLimitBlocks = hard
	if err := account.Save(dir, a); err != nil {
		return err
	}
	fmt.Printf("updated account %d: soft=%d hard=%d\n", a.ID, soft, hard)
	return nil
}

func parseID(s string) (box.AccountID, error) {
	var id uint32
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0, fmt.Errorf("bad account ID %q: %w", s, err)
	}
	return box.AccountID(id), nil
}

func parseIDAndLimits(args []string) (id box.AccountID, soft, hard uint64, err error) {
	id, err = parseID(args[0])
	if err != nil {
		return 0, 0, 0, err
	}
	if _, err = fmt.Sscanf(args[1], "%d", &soft); err != nil {
		return 0, 0, 0, fmt.Errorf("bad soft limit %q: %w", args[1], err)
	}
	if _, err = fmt.Sscanf(args[2], "%d", &hard); err != nil {
		return 0, 0, 0, fmt.Errorf("bad hard limit %q: %w", args[2], err)
	}
	return id, soft, hard, nil
}
