package ipc

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestResponse(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "ctl.sock")

	err := StartServer(sock, func(req Request) Response {
		switch req.Cmd {
		case "status":
			return Response{OK: true, State: "idle", Count: 3}
		case "purge":
			if !req.Confirm {
				return Response{Error: "purge requires confirmation"}
			}
			return Response{OK: true}
		default:
			return Response{Error: "unknown command: " + req.Cmd}
		}
	})
	require.NoError(t, err)

	resp, err := Send(sock, Request{Cmd: "status"})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, "idle", resp.State)
	assert.Equal(t, 3, resp.Count)

	resp, err = Send(sock, Request{Cmd: "purge"})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "confirmation")

	resp, err = Send(sock, Request{Cmd: "purge", Confirm: true})
	require.NoError(t, err)
	assert.True(t, resp.OK)

	resp, err = Send(sock, Request{Cmd: "bogus"})
	require.NoError(t, err)
	assert.False(t, resp.OK)
}

func TestSendWithoutServer(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "nobody.sock")
	_, err := Send(sock, Request{Cmd: "status"})
	assert.Error(t, err)
}
