package internal

import (
	"bytes"
	"errors"
	"strings"
)

// STOMP 1.2 commands used by the chat broker.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdSend        = "SEND"
	CmdMessage     = "MESSAGE"
	CmdError       = "ERROR"
	CmdDisconnect  = "DISCONNECT"
)

// Common frame headers.
const (
	HdrAcceptVersion = "accept-version"
	HdrVersion       = "version"
	HdrHeartBeat     = "heart-beat"
	HdrHost          = "host"
	HdrID            = "id"
	HdrDestination   = "destination"
	HdrSubscription  = "subscription"
	HdrAck           = "ack"
	HdrContentType   = "content-type"
	HdrAuthorization = "Authorization"
)

// Heartbeat is a single EOL sent to keep the connection alive.
var Heartbeat = []byte("\n")

var errMalformedFrame = errors.New("malformed STOMP frame")

// Frame is a single STOMP frame. Headers keep insertion order as a flat
// key/value pair list; repeated keys beyond the first are ignored on read,
// matching the STOMP 1.2 rule that the first occurrence wins.
type Frame struct {
	Command string
	Headers []string
	Body    []byte
}

// NewFrame creates a frame with the given command.
func NewFrame(command string) *Frame {
	return &Frame{Command: command}
}

// Set adds or replaces a header value.
func (f *Frame) Set(key, value string) {
	for i := 0; i+1 < len(f.Headers); i += 2 {
		if f.Headers[i] == key {
			f.Headers[i+1] = value
			return
		}
	}
	f.Headers = append(f.Headers, key, value)
}

// Get returns the first value for a header key, or "".
func (f *Frame) Get(key string) string {
	for i := 0; i+1 < len(f.Headers); i += 2 {
		if f.Headers[i] == key {
			return f.Headers[i+1]
		}
	}
	return ""
}

// Marshal serializes the frame: command line, header lines, blank line,
// body, NUL terminator.
func (f *Frame) Marshal() []byte {
	var b bytes.Buffer
	b.WriteString(f.Command)
	b.WriteByte('\n')
	escape := f.Command != CmdConnect && f.Command != CmdConnected
	for i := 0; i+1 < len(f.Headers); i += 2 {
		k, v := f.Headers[i], f.Headers[i+1]
		if escape {
			k, v = escapeHeader(k), escapeHeader(v)
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return b.Bytes()
}

// IsHeartbeat reports whether raw is a bare EOL keep-alive rather than a frame.
func IsHeartbeat(raw []byte) bool {
	trimmed := bytes.Trim(raw, "\r\n")
	return len(trimmed) == 0
}

// ParseFrame decodes one STOMP frame from raw bytes.
func ParseFrame(raw []byte) (*Frame, error) {
	// Tolerate leading EOLs between frames.
	raw = bytes.TrimLeft(raw, "\r\n")
	head, body, found := bytes.Cut(raw, []byte("\r\n\r\n"))
	if !found {
		head, body, found = bytes.Cut(raw, []byte("\n\n"))
	}
	if !found {
		return nil, errMalformedFrame
	}
	body = bytes.TrimSuffix(bytes.TrimRight(body, "\r\n"), []byte{0})

	lines := strings.Split(string(head), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, errMalformedFrame
	}
	f := NewFrame(strings.TrimRight(lines[0], "\r"))
	unescape := f.Command != CmdConnect && f.Command != CmdConnected
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, errMalformedFrame
		}
		if unescape {
			k, v = unescapeHeader(k), unescapeHeader(v)
		}
		if f.Get(k) == "" {
			f.Headers = append(f.Headers, k, v)
		}
	}
	f.Body = body
	return f, nil
}

var headerEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\r", `\r`,
	"\n", `\n`,
	":", `\c`,
)

var headerUnescaper = strings.NewReplacer(
	`\r`, "\r",
	`\n`, "\n",
	`\c`, ":",
	`\\`, `\`,
)

func escapeHeader(s string) string   { return headerEscaper.Replace(s) }
func unescapeHeader(s string) string { return headerUnescaper.Replace(s) }
