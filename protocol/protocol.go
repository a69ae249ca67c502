package protocol

import (
	"errors"
	"strings"
)

var ErrInvalidLine = errors.New("invalid protocol line")

// Channel tags. Every line starts with one of these.
const (
	TagControl = "TYPE 0"
	TagChat    = "TYPE 1"
)

// Control command names.
const (
	CmdRegUser      = "REGUSER"
	CmdRegUserFail  = "REGUSERFAIL"
	CmdLogin        = "LOGIN"
	CmdLoginFail    = "LOGINFAIL"
	CmdLoginSuccess = "LOGINSUCCESS"
	CmdLogoff       = "LOGOFF"
	CmdConnect      = "CONNECT"
	CmdResponse     = "RESPONSE"
	CmdDisconnect   = "DISCONNECT"
	CmdStatusUpdate = "STATUSUPDATE"
	CmdGetUsers     = "GETUSERS"
	CmdUserList     = "USERLIST"
	CmdError        = "ERROR"
)

// RESPONSE answers.
const (
	AnswerYes = "YES"
	AnswerNo  = "NO"
)

const sep = ";"

// Line is one decoded protocol line. Control lines carry Command and Args,
// chat lines carry Peer and Payload. Payload is kept exactly as received,
// escape markers included.
type Line struct {
	Tag     string
	Command string
	Args    []string
	Peer    string
	Payload string
}

// Encode joins fields with the separator and terminates the line.
func Encode(fields ...string) string {
	return strings.Join(fields, sep) + "\n"
}

// EncodeControl builds a TYPE 0 line for the given command.
func EncodeControl(cmd string, args ...string) string {
	fields := make([]string, 0, len(args)+2)
	fields = append(fields, TagControl, cmd)
	fields = append(fields, args...)
	return Encode(fields...)
}

// EncodeChat builds a TYPE 1 line. The payload is written verbatim; callers
// that accept raw user text escape it first with EscapePayload.
func EncodeChat(peer, payload string) string {
	return Encode(TagChat, peer, payload)
}

// Fields splits a raw line into its fields. Inverse of Encode for any field
// sequence that does not itself contain the line terminator.
func Fields(raw string) []string {
	return strings.Split(trimLine(raw), sep)
}

// Decode parses one raw line into a Line. A chat payload is everything after
// the second separator, rejoined verbatim, so a payload may contain raw
// separators without losing content.
func Decode(raw string) (*Line, error) {
	raw = trimLine(raw)

	switch {
	case strings.HasPrefix(raw, TagChat+sep):
		parts := strings.SplitN(raw, sep, 3)
		if len(parts) < 3 || parts[1] == "" {
			return nil, ErrInvalidLine
		}
		return &Line{Tag: TagChat, Peer: parts[1], Payload: parts[2]}, nil

	case strings.HasPrefix(raw, TagControl+sep):
		fields := strings.Split(raw, sep)
		if len(fields) < 2 || fields[1] == "" {
			return nil, ErrInvalidLine
		}
		return &Line{Tag: TagControl, Command: fields[1], Args: fields[2:]}, nil
	}

	return nil, ErrInvalidLine
}

func trimLine(raw string) string {
	raw = strings.TrimSuffix(raw, "\n")
	return strings.TrimSuffix(raw, "\r")
}

// Payload escape markers. A chat payload travels on a single line with no
// structural separators in it; newlines and semicolons are replaced by
// four-character markers before transmission and mapped back only at
// display time.
const (
	markerNewline   = "&#92"
	markerSeparator = "&#59"
)

// EscapePayload prepares raw chat text for transmission.
func EscapePayload(s string) string {
	s = strings.ReplaceAll(s, "\n", markerNewline)
	s = strings.ReplaceAll(s, sep, markerSeparator)
	return s
}

// UnescapePayload restores the original text. This belongs to presentation;
// the server forwards payloads with the markers intact.
func UnescapePayload(s string) string {
	s = strings.ReplaceAll(s, markerSeparator, sep)
	s = strings.ReplaceAll(s, markerNewline, "\n")
	return s
}
