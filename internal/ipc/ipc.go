package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"
)

const DefaultSocketPath = "/tmp/persona.sock"

// Request is one control command from persona-ctl.
type Request struct {
	Cmd     string `json:"cmd"`
	From    string `json:"from,omitempty"`    // export range, RFC3339
	To      string `json:"to,omitempty"`      // export range, RFC3339
	Confirm bool   `json:"confirm,omitempty"` // required by purge
}

// Response carries the command outcome back over the same connection.
type Response struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	State   string `json:"state,omitempty"`
	Session string `json:"session,omitempty"`
	Count   int    `json:"count,omitempty"`
	Payload string `json:"payload,omitempty"` // export body
}

type Handler func(Request) Response

// StartServer listens on the unix socket and serves one request per
// connection.
func StartServer(path string, handler Handler) error {
	if path == "" {
		path = DefaultSocketPath
	}
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				continue
			}
			go serveConn(conn, handler)
		}
	}()

	return nil
}

func serveConn(conn net.Conn, handler Handler) {
	defer conn.Close()

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		return
	}
	resp := handler(req)
	_ = json.NewEncoder(conn).Encode(resp)
}

// Send delivers one command and waits for the reply.
func Send(path string, req Request) (Response, error) {
	if path == "" {
		path = DefaultSocketPath
	}

	conn, err := net.Dial("unix", path)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(30 * time.Second))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, err
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}
