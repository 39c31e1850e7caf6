package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// ipInfoURL returns connection metadata for the caller's public address.
// Queried through the tunnel so it reports the egress identity, not the
// host's own.
const ipInfoURL = "http://ip-api.com/json/?fields=status,message,query,country,city,org"

const maxIPInfoResponse = 64 * 1024

// IPInfo describes the current egress identity.
type IPInfo struct {
	IP      string `json:"ip"`
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
	Org     string `json:"org,omitempty"`
}

// lookupExitIP resolves the exit IP by querying an IP metadata service
// through the local SOCKS proxy.
func lookupExitIP(ctx context.Context, proxyAddr string) (*IPInfo, error) {
	addr := strings.TrimPrefix(proxyAddr, "socks5://")
	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("conn: socks dialer: %w", err)
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, address)
			}
			return dialer.Dial(network, address)
		},
		DisableKeepAlives: true,
	}
	client := &http.Client{Transport: transport, Timeout: 10 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ipInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("conn: exit IP probe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("conn: exit IP probe: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxIPInfoResponse))
	if err != nil {
		return nil, err
	}
	var payload struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Query   string `json:"query"`
		Country string `json:"country"`
		City    string `json:"city"`
		Org     string `json:"org"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("conn: parse exit IP response: %w", err)
	}
	if payload.Status != "success" {
		return nil, fmt.Errorf("conn: exit IP probe rejected: %s", payload.Message)
	}
	return &IPInfo{
		IP:      payload.Query,
		Country: payload.Country,
		City:    payload.City,
		Org:     payload.Org,
	}, nil
}
