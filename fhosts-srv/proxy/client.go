package proxy

import (
	"context"
	"net"
	"time"

	"golang.org/x/net/proxy"

	"github.com/amalg/fhosts/fhosts-srv/config"
	"github.com/amalg/fhosts/fhosts-srv/logger"
)

// dialUpstream establishes the outbound TCP connection for addr, applying
// the configured forward rule. The address has already been through
// mapping substitution; no further rewriting happens here.
func (e *Engine) dialUpstream(ctx context.Context, addr string) (net.Conn, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, NewProxyError(ErrCodeInvalidAddress, "invalid address format", err)
	}

	fwd := e.cfg.Forward
	dialer := &net.Dialer{
		Timeout: time.Duration(fwd.DialTimeoutSeconds) * time.Second,
	}

	switch fwd.Type {
	case config.ForwardTypeSocks5:
		logger.Debug("Dialing %s via SOCKS5 proxy %s", addr, fwd.Address)

		var auth *proxy.Auth
		if fwd.Username != nil {
			auth = &proxy.Auth{User: *fwd.Username}
			if fwd.Password != nil {
				auth.Password = *fwd.Password
			}
		}

		socksDialer, err := proxy.SOCKS5("tcp", fwd.Address, auth, dialer)
		if err != nil {
			return nil, NewProxyError(ErrCodeSOCKS5DialerFailed, "failed to create SOCKS5 dialer", err)
		}

		var conn net.Conn
		if contextDialer, ok := socksDialer.(proxy.ContextDialer); ok {
			conn, err = contextDialer.DialContext(ctx, "tcp", addr)
		} else {
			conn, err = socksDialer.Dial("tcp", addr)
		}
		if err != nil {
			return nil, NewProxyError(ErrCodeUpstreamConnectFailed, "SOCKS5 dial failed", err)
		}
		return conn, nil

	default:
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, NewProxyError(ErrCodeDialFailed, "failed to dial target", err)
		}
		return conn, nil
	}
}
