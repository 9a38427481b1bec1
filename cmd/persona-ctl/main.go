package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	cli "github.com/spf13/pflag"

	"github.com/k4ssym/persona/internal/ipc"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: persona-ctl [flags] start|stop|status|export|purge")
	cli.PrintDefaults()
	os.Exit(2)
}

func main() {
	socket := cli.StringP("socket", "s", "", "Daemon control socket path")
	from := cli.String("from", "", "Export range start (RFC3339)")
	to := cli.String("to", "", "Export range end (RFC3339)")
	out := cli.StringP("out", "o", "", "Export output file (default stdout)")
	yes := cli.BoolP("yes", "y", false, "Skip the purge confirmation prompt")
	cli.Usage = usage
	cli.Parse()

	if cli.NArg() != 1 {
		usage()
	}
	cmd := cli.Arg(0)

	req := ipc.Request{Cmd: cmd, From: *from, To: *to}

	if cmd == "purge" {
		if !*yes && !confirmPurge() {
			fmt.Println("aborted")
			return
		}
		req.Confirm = true
	}

	resp, err := ipc.Send(*socket, req)
	if err != nil {
		fmt.Println("persona-daemon not running:", err)
		os.Exit(1)
	}
	if !resp.OK {
		fmt.Println("error:", resp.Error)
		os.Exit(1)
	}

	switch cmd {
	case "start", "stop":
		fmt.Println("state:", resp.State)

	case "status":
		fmt.Println("state:   ", resp.State)
		if resp.Session != "" {
			fmt.Println("session: ", resp.Session)
		}
		fmt.Println("recorded:", resp.Count)

	case "export":
		if *out == "" {
			fmt.Print(resp.Payload)
			return
		}
		if err := os.WriteFile(*out, []byte(resp.Payload), 0o644); err != nil {
			fmt.Println("write failed:", err)
			os.Exit(1)
		}
		fmt.Printf("exported %d sessions to %s\n", resp.Count, *out)

	case "purge":
		fmt.Println("journal purged")
	}
}

func confirmPurge() bool {
	fmt.Print("Delete ALL recorded sessions? [y/N] ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}
