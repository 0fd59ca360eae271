// Command bboxctl is a thin client for bboxd's command socket: it
// sends one command line and prints whatever the daemon replies,
// mirroring the original bbackupctl's single-shot invocation style.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
)

var socketPath = flag.String("socket", "", "path to the daemon's command socket (required)")

func usage() {
	fmt.Fprintf(os.Stderr, "usage: bboxctl -socket=PATH COMMAND\n\n"+
		"commands: sync, force-sync, reload, terminate, wait-for-sync, wait-for-end, quit\n")
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if *socketPath == "" || flag.NArg() != 1 {
		usage()
	}
	cmd := flag.Arg(0)

	conn, err := net.Dial("unix", *socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bboxctl: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	// The daemon greets every new connection with a summary line and
	// its current state before waiting for a command.
	if scanner.Scan() {
		fmt.Println(scanner.Text())
	}
	if scanner.Scan() {
		fmt.Println(scanner.Text())
	}

	if _, err := fmt.Fprintf(conn, "%s\n", cmd); err != nil {
		fmt.Fprintf(os.Stderr, "bboxctl: %v\n", err)
		os.Exit(1)
	}
	if cmd == "quit" {
		return
	}

	if scanner.Scan() {
		reply := scanner.Text()
		fmt.Println(reply)
		if reply != "ok" {
			os.Exit(1)
		}
		return
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "bboxctl: %v\n", err)
	}
	os.Exit(1)
}
