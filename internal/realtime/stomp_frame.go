package realtime

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// STOMP 1.2 commands used by the client.
const (
	cmdConnect     = "CONNECT"
	cmdConnected   = "CONNECTED"
	cmdSubscribe   = "SUBSCRIBE"
	cmdUnsubscribe = "UNSUBSCRIBE"
	cmdDisconnect  = "DISCONNECT"
	cmdMessage     = "MESSAGE"
	cmdReceipt     = "RECEIPT"
	cmdError       = "ERROR"
)

var errEmptyFrame = errors.New("stomp: empty frame")

// frame is one STOMP frame. Header order is preserved and the first
// occurrence of a repeated header wins, as the protocol requires.
type frame struct {
	command string
	headers [][2]string
	body    []byte
}

func newFrame(command string, kv ...string) frame {
	f := frame{command: command}
	for i := 0; i+1 < len(kv); i += 2 {
		f.headers = append(f.headers, [2]string{kv[i], kv[i+1]})
	}
	return f
}

func (f frame) header(name string) (string, bool) {
	for _, h := range f.headers {
		if h[0] == name {
			return h[1], true
		}
	}
	return "", false
}

var headerEscaper = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)

func (f frame) marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.command)
	buf.WriteByte('\n')

	// CONNECT and CONNECTED frames are exempt from header escaping.
	escape := f.command != cmdConnect && f.command != cmdConnected
	for _, h := range f.headers {
		k, v := h[0], h[1]
		if escape {
			k, v = headerEscaper.Replace(k), headerEscaper.Replace(v)
		}
		buf.WriteString(k)
		buf.WriteByte(':')
		buf.WriteString(v)
		buf.WriteByte('\n')
	}
	if len(f.body) > 0 {
		if _, ok := f.header("content-length"); !ok {
			buf.WriteString("content-length:")
			buf.WriteString(strconv.Itoa(len(f.body)))
			buf.WriteByte('\n')
		}
	}
	buf.WriteByte('\n')
	buf.Write(f.body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// parseFrames splits one WebSocket message into frames. A message holding
// only EOLs is a heart-beat and yields no frames.
func parseFrames(data []byte) ([]frame, error) {
	var frames []frame
	for {
		data = bytes.TrimLeft(data, "\r\n")
		if len(data) == 0 {
			return frames, nil
		}
		f, rest, err := parseFrame(data)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
		data = rest
	}
}

func parseFrame(data []byte) (frame, []byte, error) {
	var f frame

	line, data, ok := cutLine(data)
	if !ok {
		return f, nil, fmt.Errorf("stomp: truncated command")
	}
	if line == "" {
		return f, nil, errEmptyFrame
	}
	f.command = line

	escaped := f.command != cmdConnected
	for {
		line, data, ok = cutLine(data)
		if !ok {
			return f, nil, fmt.Errorf("stomp: truncated headers in %s", f.command)
		}
		if line == "" {
			break
		}
		k, v, found := strings.Cut(line, ":")
		if !found {
			return f, nil, fmt.Errorf("stomp: malformed header %q", line)
		}
		if escaped {
			var err error
			if k, err = unescapeHeader(k); err != nil {
				return f, nil, err
			}
			if v, err = unescapeHeader(v); err != nil {
				return f, nil, err
			}
		}
		f.headers = append(f.headers, [2]string{k, v})
	}

	if cl, ok := f.header("content-length"); ok {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return f, nil, fmt.Errorf("stomp: bad content-length %q", cl)
		}
		if len(data) < n+1 || data[n] != 0 {
			return f, nil, fmt.Errorf("stomp: truncated body in %s", f.command)
		}
		f.body = data[:n]
		return f, data[n+1:], nil
	}

	end := bytes.IndexByte(data, 0)
	if end < 0 {
		return f, nil, fmt.Errorf("stomp: unterminated %s frame", f.command)
	}
	f.body = data[:end]
	return f, data[end+1:], nil
}

func cutLine(data []byte) (string, []byte, bool) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return "", nil, false
	}
	line := data[:i]
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return string(line), data[i+1:], true
}

func unescapeHeader(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 >= len(s) {
			return "", fmt.Errorf("stomp: dangling escape in %q", s)
		}
		i++
		switch s[i] {
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		case '\\':
			b.WriteByte('\\')
		default:
			return "", fmt.Errorf("stomp: undefined escape \\%c", s[i])
		}
	}
	return b.String(), nil
}

// parseHeartBeat reads a "cx,cy" heart-beat header value in milliseconds.
func parseHeartBeat(v string) (cx, cy int, err error) {
	a, b, ok := strings.Cut(v, ",")
	if !ok {
		return 0, 0, fmt.Errorf("stomp: bad heart-beat %q", v)
	}
	if cx, err = strconv.Atoi(strings.TrimSpace(a)); err != nil {
		return 0, 0, fmt.Errorf("stomp: bad heart-beat %q", v)
	}
	if cy, err = strconv.Atoi(strings.TrimSpace(b)); err != nil {
		return 0, 0, fmt.Errorf("stomp: bad heart-beat %q", v)
	}
	return cx, cy, nil
}
