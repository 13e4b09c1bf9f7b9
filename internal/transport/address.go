package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// Scheme identifies the backend serving an address.
type Scheme string

const (
	SchemeTCP    Scheme = "tcp"
	SchemeIPC    Scheme = "ipc"
	SchemeInproc Scheme = "inproc"
	SchemeNATS   Scheme = "nats"
)

const defaultNATSSubject = "samples"

// ParseScheme returns the scheme of a transport address such as
// "tcp://127.0.0.1:5555" or "nats://localhost:4222/sdr.time".
func ParseScheme(address string) (Scheme, error) {
	idx := strings.Index(address, "://")
	if idx <= 0 || idx+3 == len(address) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, address)
	}
	switch s := Scheme(strings.ToLower(address[:idx])); s {
	case SchemeTCP, SchemeIPC, SchemeInproc, SchemeNATS:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, s)
	}
}

// splitNATS separates "nats://host:port/subject" into the server URL and the
// subject. A missing subject falls back to "samples".
func splitNATS(address string) (server, subject string, err error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", "", fmt.Errorf("parse %q: %w", address, err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("missing NATS server in %q", address)
	}
	subject = strings.Trim(u.Path, "/")
	subject = strings.ReplaceAll(subject, "/", ".")
	if subject == "" {
		subject = defaultNATSSubject
	}
	u.Path = ""
	u.RawQuery = ""
	return u.String(), subject, nil
}
