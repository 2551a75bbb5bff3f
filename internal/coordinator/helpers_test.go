package coordinator

import (
	"net"
	"strconv"
	"strings"
)

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func jsonBody(s string) *strings.Reader {
	return strings.NewReader(s)
}
