package imap

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mbox-reply-parser/model"
)

const (
	testUser = "jane"
	testPass = "secret"
)

// startServer runs an in-memory IMAP server and returns its port.
func startServer(t *testing.T) int {
	t.Helper()

	memServer := imapmemserver.New()
	user := imapmemserver.NewUser(testUser, testPass)
	require.NoError(t, user.Create("INBOX", nil))
	memServer.AddUser(user)

	server := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memServer.NewSession(), nil, nil
		},
		Caps: imapv2.CapSet{
			imapv2.CapIMAP4rev1: {},
			imapv2.CapIMAP4rev2: {},
		},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = server.Close() })

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	return n
}

// seed appends raw messages to INBOX.
func seed(t *testing.T, port int, messages ...string) {
	t.Helper()

	client, err := imapclient.DialInsecure(net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), nil)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Login(testUser, testPass).Wait())

	for _, raw := range messages {
		cmd := client.Append("INBOX", int64(len(raw)), &imapv2.AppendOptions{Time: time.Date(2020, 1, 6, 9, 0, 0, 0, time.UTC)})
		_, err := cmd.Write([]byte(raw))
		require.NoError(t, err)
		require.NoError(t, cmd.Close())
		_, err = cmd.Wait()
		require.NoError(t, err)
	}
	require.NoError(t, client.Logout().Wait())
}

func testMessage(i int) string {
	return fmt.Sprintf("From: jane@example.com\r\nSubject: Re: %d\r\nMessage-Id: <m%d@example.com>\r\n\r\nReply %d\r\n", i, i, i)
}

func stream(t *testing.T, opts Options) []model.Envelope {
	t.Helper()

	fetcher, err := NewFetcher(opts, nil)
	require.NoError(t, err)

	out := make(chan model.Envelope, 16)
	done := make(chan error, 1)
	go func() {
		done <- fetcher.Stream(context.Background(), out)
		close(out)
	}()

	var envs []model.Envelope
	for env := range out {
		envs = append(envs, env)
	}
	require.NoError(t, <-done)
	return envs
}

func TestFetcher_Stream(t *testing.T) {
	port := startServer(t)
	seed(t, port, testMessage(1), testMessage(2), testMessage(3))

	envs := stream(t, Options{
		Host:      "127.0.0.1",
		Port:      port,
		Username:  testUser,
		Password:  testPass,
		BatchSize: 2,
	})

	require.Len(t, envs, 3)
	for i, env := range envs {
		require.NoError(t, env.Err)
		assert.Equal(t, fmt.Sprintf("m%d@example.com", i+1), env.Message.ID)
		assert.Equal(t, "jane@example.com", env.Message.From)
		assert.NotEmpty(t, env.Message.Hash)
		assert.Equal(t, 2020, env.Message.ReceivedAt.Year())
	}
}

func TestFetcher_Limit(t *testing.T) {
	port := startServer(t)
	seed(t, port, testMessage(1), testMessage(2), testMessage(3))

	envs := stream(t, Options{
		Host:     "127.0.0.1",
		Port:     port,
		Username: testUser,
		Password: testPass,
		Limit:    1,
	})

	require.Len(t, envs, 1)
	assert.Equal(t, "m3@example.com", envs[0].Message.ID)
}

func TestFetcher_LoginFailure(t *testing.T) {
	port := startServer(t)

	fetcher, err := NewFetcher(Options{Host: "127.0.0.1", Port: port, Username: testUser, Password: "wrong"}, nil)
	require.NoError(t, err)

	err = fetcher.Stream(context.Background(), make(chan model.Envelope, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login")
}

func TestFetcher_UnknownFolder(t *testing.T) {
	port := startServer(t)

	fetcher, err := NewFetcher(Options{Host: "127.0.0.1", Port: port, Username: testUser, Password: testPass, Folder: "Missing"}, nil)
	require.NoError(t, err)

	err = fetcher.Stream(context.Background(), make(chan model.Envelope, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "select Missing")
}

func TestNewFetcher_Validation(t *testing.T) {
	_, err := NewFetcher(Options{Port: 993}, nil)
	assert.Error(t, err)
	_, err = NewFetcher(Options{Host: "h"}, nil)
	assert.Error(t, err)
	_, err = NewFetcher(Options{Host: "h", Port: 993, Limit: -1}, nil)
	assert.Error(t, err)
}
