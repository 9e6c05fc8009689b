package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	socks5 "github.com/armon/go-socks5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amalg/fhosts/fhosts-srv/config"
)

// startSocks5Server starts a SOCKS5 server on an ephemeral port and
// returns its address.
func startSocks5Server(t *testing.T, conf *socks5.Config) string {
	t.Helper()

	server, err := socks5.New(conf)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() { _ = server.Serve(ln) }()
	return ln.Addr().String()
}

func TestDialUpstreamDirect(t *testing.T) {
	echoAddr := startEchoServer(t)

	e := NewEngine(testConfig(), nil, nil)
	conn, err := e.dialUpstream(context.Background(), echoAddr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("direct"))
	require.NoError(t, err)

	buf := make([]byte, 6)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "direct", string(buf))
}

func TestDialUpstreamInvalidAddress(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil)

	_, err := e.dialUpstream(context.Background(), "missing-port")
	require.Error(t, err)

	var proxyErr *Error
	require.ErrorAs(t, err, &proxyErr)
	assert.Equal(t, ErrCodeInvalidAddress, proxyErr.Code)
}

func TestDialUpstreamConnectionRefused(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil)

	_, err := e.dialUpstream(context.Background(), closedPortAddr(t))
	require.Error(t, err)

	var proxyErr *Error
	require.ErrorAs(t, err, &proxyErr)
	assert.Equal(t, ErrCodeDialFailed, proxyErr.Code)
}

func TestDialUpstreamThroughSocks5(t *testing.T) {
	echoAddr := startEchoServer(t)
	socksAddr := startSocks5Server(t, &socks5.Config{})

	cfg := testConfig()
	cfg.Forward = config.ForwardConfig{
		Type:    config.ForwardTypeSocks5,
		Address: socksAddr,
	}

	e := NewEngine(cfg, nil, nil)
	conn, err := e.dialUpstream(context.Background(), echoAddr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("via socks"))
	require.NoError(t, err)

	buf := make([]byte, 9)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "via socks", string(buf))
}

func TestDialUpstreamThroughSocks5WithAuth(t *testing.T) {
	echoAddr := startEchoServer(t)

	creds := socks5.StaticCredentials{"tester": "secret"}
	socksAddr := startSocks5Server(t, &socks5.Config{
		AuthMethods: []socks5.Authenticator{
			socks5.UserPassAuthenticator{Credentials: creds},
		},
	})

	username := "tester"
	password := "secret"
	cfg := testConfig()
	cfg.Forward = config.ForwardConfig{
		Type:     config.ForwardTypeSocks5,
		Address:  socksAddr,
		Username: &username,
		Password: &password,
	}

	e := NewEngine(cfg, nil, nil)
	conn, err := e.dialUpstream(context.Background(), echoAddr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("auth ok"))
	require.NoError(t, err)

	buf := make([]byte, 7)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "auth ok", string(buf))
}

func TestDialUpstreamSocks5BadCredentials(t *testing.T) {
	creds := socks5.StaticCredentials{"tester": "secret"}
	socksAddr := startSocks5Server(t, &socks5.Config{
		AuthMethods: []socks5.Authenticator{
			socks5.UserPassAuthenticator{Credentials: creds},
		},
	})

	username := "tester"
	password := "wrong"
	cfg := testConfig()
	cfg.Forward = config.ForwardConfig{
		Type:     config.ForwardTypeSocks5,
		Address:  socksAddr,
		Username: &username,
		Password: &password,
	}

	e := NewEngine(cfg, nil, nil)
	_, err := e.dialUpstream(context.Background(), "127.0.0.1:80")
	require.Error(t, err)

	var proxyErr *Error
	require.ErrorAs(t, err, &proxyErr)
	assert.Equal(t, ErrCodeUpstreamConnectFailed, proxyErr.Code)
}

func TestHTTPForwardingThroughSocks5(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "socks upstream")
	}))
	defer target.Close()

	_, targetPort, err := net.SplitHostPort(strings.TrimPrefix(target.URL, "http://"))
	require.NoError(t, err)

	socksAddr := startSocks5Server(t, &socks5.Config{})

	cfg := testConfig()
	cfg.Forward = config.ForwardConfig{
		Type:    config.ForwardTypeSocks5,
		Address: socksAddr,
	}

	e := NewEngine(cfg, nil, nil)
	port, err := e.Start(map[string]string{"fw.example.com": "127.0.0.1"})
	require.NoError(t, err)
	t.Cleanup(e.Stop)

	resp, err := proxyClient(t, port).Get(fmt.Sprintf("http://fw.example.com:%s/", targetPort))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "socks upstream", string(body))
}
