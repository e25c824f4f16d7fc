package raft

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// newHTTPClient builds the pooled client used for outbound peer RPCs.
// transport, when non-nil, overrides the default dialer/pool setup;
// tests use this to wrap the connection with a fault-injecting
// RoundTripper without the production dispatch path having to know
// fault injection exists.
func newHTTPClient(transport http.RoundTripper) *http.Client {
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,

			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 10 * time.Second,
			}).DialContext,

			MaxIdleConns: 30,

			IdleConnTimeout:       60 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	client := http.Client{
		Timeout:   2 * time.Second,
		Transport: transport,
	}

	return &client
}

// sendMsg encodes and posts msg to recipientId and returns the decoded
// response. The call is bounded by ctx's deadline; every caller in
// server.go attaches a per-RPC timeout before calling this so a single
// slow or partitioned peer can never stall an election or a
// replication round.
func (s *Server) sendMsg(ctx context.Context, recipientId ServerId, msg RPCMsg) (RPCMsg, error) {
	recipient, found := s.Cfg.Servers[recipientId]
	if !found {
		return nil, fmt.Errorf("unknown recipient id %q", recipientId)
	}

	msgData, err := EncodeRPCMsg(msg)
	if err != nil {
		return nil, fmt.Errorf("cannot encode message: %w", err)
	}

	uri := url.URL{
		Scheme: "http",
		Host:   string(recipient.PublicAddress),
		Path:   "/raft/rpc",
	}

	req, err := http.NewRequestWithContext(ctx, "POST", uri.String(),
		bytes.NewReader(msgData))
	if err != nil {
		return nil, fmt.Errorf("cannot create http request: %w", err)
	}

	req.Header.Set("X-Raft-Source-Id", string(s.Id))

	res, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot send %v to %s: %w", msg, recipientId, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("cannot read response from %s: %w", recipientId, err)
	}

	if res.StatusCode != 200 {
		text := strings.TrimSpace(string(body))
		return nil, fmt.Errorf("request to %s failed with status %d: %s",
			recipientId, res.StatusCode, text)
	}

	resMsg, err := DecodeRPCMsg(body)
	if err != nil {
		return nil, fmt.Errorf("cannot decode response from %s: %w", recipientId, err)
	}

	return resMsg, nil
}

// Dispatch decodes an incoming peer RPC message and, unless the server
// is stopping, hands it to the coordinator goroutine, returning the
// encoded response once the coordinator has produced one. It is called
// from the HTTP route registered by cmd/kvstore/raft_routes.go rather
// than by a transport-owned http.Server, so that peer RPC, client KV,
// and operational endpoints all live on one uniform HTTP surface.
func (s *Server) Dispatch(sourceId ServerId, data []byte) ([]byte, error) {
	msg, err := DecodeRPCMsg(data)
	if err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	replyChan := make(chan RPCMsg, 1)

	select {
	case <-s.stopChan:
		return nil, fmt.Errorf("server is stopping")
	case s.rpcChan <- IncomingRPCMsg{SourceId: sourceId, Msg: msg, ReplyChan: replyChan}:
	}

	select {
	case reply := <-replyChan:
		if reply == nil {
			return nil, fmt.Errorf("no reply produced")
		}
		return EncodeRPCMsg(reply)
	case <-s.stopChan:
		return nil, fmt.Errorf("server is stopping")
	}
}
