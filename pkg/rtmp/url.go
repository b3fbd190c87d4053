package rtmp

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// target is the parsed form of an `rtmp://<host>[:<port>]/<app>/<stream>`
// URL, per the RTMP URL grammar this spec specifies; port defaults to
// 1935.
type target struct {
	host   string
	port   string
	app    string
	stream string
	tcURL  string
}

func parseTarget(rtmpURL string) (*target, error) {
	u, err := url.Parse(rtmpURL)
	if err != nil {
		return nil, fmt.Errorf("rtmp: parse url: %w", err)
	}
	if u.Scheme != "rtmp" {
		return nil, fmt.Errorf("rtmp: unsupported scheme %q", u.Scheme)
	}

	port := u.Port()
	if port == "" {
		port = "1935"
	}

	path := strings.TrimPrefix(u.Path, "/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("rtmp: url path must be /<app>/<stream>, got %q", u.Path)
	}

	return &target{
		host:   u.Hostname(),
		port:   port,
		app:    parts[0],
		stream: parts[1],
		tcURL:  fmt.Sprintf("rtmp://%s/%s", net.JoinHostPort(u.Hostname(), port), parts[0]),
	}, nil
}
