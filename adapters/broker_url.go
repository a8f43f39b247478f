package adapters

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const MQTTDefaultPort = 1883

// BrokerURL turns the configured broker host into a URL paho accepts. A
// bare host gets the default port and the tcp scheme.
func BrokerURL(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("broker host is empty")
	}

	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err != nil {
			return "", fmt.Errorf("parse broker url: %w", err)
		}
		if u.Host == "" {
			return "", fmt.Errorf("broker url %q has no host", host)
		}
		return u.String(), nil
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return "tcp://" + host, nil
	}
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(MQTTDefaultPort)), nil
}

// brokerAddress returns the host:port to dial for a plain TCP broker.
func brokerAddress(host string) (string, error) {
	raw, err := BrokerURL(host)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "tcp", "mqtt":
	default:
		return "", fmt.Errorf("unsupported broker scheme: %s", u.Scheme)
	}
	if u.Port() == "" {
		return net.JoinHostPort(u.Hostname(), strconv.Itoa(MQTTDefaultPort)), nil
	}
	return u.Host, nil
}
