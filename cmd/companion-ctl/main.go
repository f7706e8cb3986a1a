package main

import (
	"fmt"
	"os"
	"time"

	cli "github.com/spf13/pflag"

	"companion/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocket, "Control socket of companiond")
	timeout := cli.DurationP("timeout", "t", 5*time.Minute, "How long to wait for the turn to finish")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <listen|echo|converse> [name]\n", os.Args[0])
		cli.PrintDefaults()
	}
	cli.Parse()

	if cli.NArg() < 1 || cli.NArg() > 2 {
		cli.Usage()
		os.Exit(2)
	}

	msg := ipc.ControlMessage{Cmd: cli.Arg(0), Name: cli.Arg(1)}

	reply, err := ipc.Send(*socket, msg, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "companiond not running:", err)
		os.Exit(1)
	}
	if !reply.OK {
		fmt.Fprintln(os.Stderr, "error:", reply.Error)
		os.Exit(1)
	}

	if reply.Path != "" {
		fmt.Println(reply.Path)
	}
	if reply.Text != "" {
		fmt.Println(reply.Text)
	}
}
