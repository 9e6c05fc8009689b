package proxy

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/amalg/fhosts/fhosts-srv/logger"
)

// connectEstablished is the literal acknowledgment written to the client
// once the tunnel target is connected.
const connectEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

// hopByHopHeaders are stripped when forwarding plain HTTP requests.
var hopByHopHeaders = map[string]struct{}{
	"Proxy-Connection":    {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Connection":          {},
	"Upgrade":             {},
}

// handleRequest is the sole branching point of the request path: CONNECT
// requests become tunnels, everything else is forwarded as plain HTTP.
func (e *Engine) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		e.handleConnect(w, r)
		return
	}
	e.forwardHTTP(w, r)
}

// handleConnect resolves the substituted tunnel target, dials it, and
// pumps bytes in both directions until either side closes.
func (e *Engine) handleConnect(w http.ResponseWriter, r *http.Request) {
	host, port, err := net.SplitHostPort(r.Host)
	if err != nil {
		host = r.Host
		port = "443"
	}

	targetHost := e.store.Lookup(host)
	targetAddr := net.JoinHostPort(targetHost, port)

	if targetHost != host {
		logger.Debug("Tunneling %s -> %s", r.Host, targetAddr)
		e.sink.ProxyLog("Tunneling " + r.Host + " -> " + targetAddr)
		_ = e.collector.RecordSubstitution(r.Context(), host, targetHost)
	}

	clientIP, _, splitErr := net.SplitHostPort(r.RemoteAddr)
	if splitErr != nil {
		clientIP = r.RemoteAddr
	}
	portNum, _ := strconv.Atoi(port)
	connID, statsErr := e.collector.StartConnection(r.Context(), clientIP, targetHost, portNum, "connect")
	if statsErr != nil {
		logger.Error("Failed to record connection start: %v", statsErr)
	}

	targetConn, err := e.dialUpstream(r.Context(), targetAddr)
	if err != nil {
		logger.Error("Failed to establish tunnel to %s: %v", targetAddr, err)
		e.sink.ProxyError("Failed to connect to " + targetAddr + ": " + err.Error())
		_ = e.collector.RecordError(r.Context(), connID, "dial_error", err.Error())
		_ = e.collector.EndConnection(r.Context(), connID, 0, 0, 0, "dial_error")
		writeProxyErrorResponse(w, err, ErrCodeUpstreamConnectFailed)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		logger.Error("HTTP server does not support hijacking")
		if closeErr := targetConn.Close(); closeErr != nil {
			logger.Error("Error closing target connection: %v", closeErr)
		}
		_ = e.collector.EndConnection(r.Context(), connID, 0, 0, 0, "hijack_unsupported")
		http.Error(w, "Hijacking not supported", http.StatusInternalServerError)
		return
	}

	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		logger.Error("Failed to hijack connection: %v", err)
		if closeErr := targetConn.Close(); closeErr != nil {
			logger.Error("Error closing target connection: %v", closeErr)
		}
		_ = e.collector.EndConnection(r.Context(), connID, 0, 0, 0, "hijack_error")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	tracked := newTrackedConn(targetConn)
	tunnelID := e.tunnels.add(clientConn, tracked)

	if _, err := clientConn.Write([]byte(connectEstablished)); err != nil {
		logger.Error("Failed to send tunnel acknowledgment: %v", err)
		_ = clientConn.Close()
		_ = tracked.Close()
		e.tunnels.remove(tunnelID)
		_ = e.collector.EndConnection(context.Background(), connID, 0, 0, 0, "ack_error")
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		// bytes the client sent before the hijack completed
		if clientBuf != nil && clientBuf.Reader != nil && clientBuf.Reader.Buffered() > 0 {
			if _, err := clientBuf.Reader.WriteTo(tracked); err != nil {
				if !isClosedConnError(err) {
					logger.Error("Failed to flush buffered client data: %v", err)
				}
				closeWrite(tracked)
				return
			}
		}
		if _, err := copyBuffer(tracked, clientConn); err != nil && !isClosedConnError(err) {
			logger.Warn("Tunnel copy error (client to target): %v", err)
		}
		closeWrite(tracked)
	}()

	go func() {
		defer wg.Done()
		if _, err := copyBuffer(clientConn, tracked); err != nil && !isClosedConnError(err) {
			logger.Warn("Tunnel copy error (target to client): %v", err)
		}
		closeWrite(clientConn)
	}()

	go func() {
		wg.Wait()
		_ = clientConn.Close()
		_ = tracked.Close()
		e.tunnels.remove(tunnelID)
		_ = e.collector.EndConnection(context.Background(), connID,
			tracked.BytesSent(), tracked.BytesReceived(), tracked.Age(), "closed")
		logger.Debug("Tunnel to %s closed", targetAddr)
	}()
}

// forwardHTTP rewrites the destination host of a plain proxy request
// while presenting the original hostname in the Host header, so the
// downstream server's virtual-host routing behaves as if the client had
// connected directly.
func (e *Engine) forwardHTTP(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Hostname()
	if host == "" {
		// non-absolute request line; fall back to the Host header
		if h, _, err := net.SplitHostPort(r.Host); err == nil {
			host = h
		} else {
			host = r.Host
		}
	}
	port := r.URL.Port()
	if port == "" {
		port = "80"
	}

	targetHost := e.store.Lookup(host)

	if targetHost != host {
		logger.Debug("Proxying HTTP %s -> %s", host, targetHost)
		e.sink.ProxyLog("Proxying HTTP " + host + " -> " + targetHost)
		_ = e.collector.RecordSubstitution(r.Context(), host, targetHost)
	}

	clientIP, _, splitErr := net.SplitHostPort(r.RemoteAddr)
	if splitErr != nil {
		clientIP = r.RemoteAddr
	}
	portNum, _ := strconv.Atoi(port)
	connID, statsErr := e.collector.StartConnection(r.Context(), clientIP, targetHost, portNum, "http")
	if statsErr != nil {
		logger.Error("Failed to record connection start: %v", statsErr)
	}

	targetURL := *r.URL
	if targetURL.Scheme == "" {
		targetURL.Scheme = "http"
	}
	targetURL.Host = net.JoinHostPort(targetHost, port)

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL.String(), r.Body)
	if err != nil {
		_ = e.collector.EndConnection(r.Context(), connID, 0, 0, 0, "bad_request")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	for name, values := range r.Header {
		if _, hop := hopByHopHeaders[name]; hop {
			continue
		}
		for _, value := range values {
			outReq.Header.Add(name, value)
		}
	}
	// The TCP connection goes to the substituted host, but the Host
	// header must carry the original hostname.
	outReq.Host = originalHostHeader(r.Host, host, port)

	start := time.Now()
	resp, err := e.httpClient.Do(outReq)
	if err != nil {
		logger.Error("Failed to forward request to %s: %v", targetURL.Host, err)
		e.sink.ProxyError("HTTP proxy error: " + err.Error())
		_ = e.collector.RecordError(r.Context(), connID, "http_forward_error", err.Error())
		_ = e.collector.EndConnection(r.Context(), connID, 0, 0, time.Since(start), "forward_error")
		writeProxyErrorResponse(w, err, ErrCodeHTTPForwardFailed)
		return
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Error("Error closing response body: %v", closeErr)
		}
	}()

	_ = e.collector.RecordHTTPRequest(r.Context(), connID, r.Method, r.URL.String(), host, resp.StatusCode)

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)

	written, err := copyBuffer(w, resp.Body)
	if err != nil && !isClosedConnError(err) {
		logger.Error("Failed to copy response body: %v", err)
	}

	sent := r.ContentLength
	if sent < 0 {
		sent = 0
	}
	_ = e.collector.EndConnection(r.Context(), connID, sent, written, time.Since(start), "completed")
}

// originalHostHeader reconstructs the Host header value to present
// downstream: the original hostname, keeping an explicit non-default port
// if the client sent one.
func originalHostHeader(requestHost, hostname, port string) string {
	if _, p, err := net.SplitHostPort(requestHost); err == nil && p != "" && p != "80" {
		return net.JoinHostPort(hostname, port)
	}
	return hostname
}

func isClosedConnError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
