// Package client implements the client side of the SMSG protocol: one
// outbound connection, one background read loop, and dispatch of decoded
// server lines to an application-provided EventSink. Presentation is
// entirely the sink's concern.
package client

import (
	"bufio"
	"errors"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"smsg/models"
	"smsg/protocol"
)

var ErrNotConnected = errors.New("not connected")

// EventSink receives decoded server events. One method per inbound command;
// implementations must not block, or the read loop stalls.
type EventSink interface {
	// ConnectRequest reports that another user asked to open a chat link.
	ConnectRequest(from string)
	// ConnectResponse reports the answer to this client's CONNECT request.
	ConnectResponse(from string, accepted bool)
	// Disconnected reports that a linked peer tore the link down.
	Disconnected(from string)
	// UserList delivers a roster snapshot.
	UserList(users []models.UserStatus)
	LoginFailed(reason string)
	LoginSucceeded()
	RegisterFailed()
	// StatusChanged reports another user's presence change.
	StatusChanged(username, code string)
	// ErrorReceived delivers a generic server-side error message.
	ErrorReceived(message string)
	// ChatReceived delivers a chat payload with its escape markers intact;
	// apply protocol.UnescapePayload before display.
	ChatReceived(from, payload string)
	// ServerClosed reports that the transport failed after login.
	ServerClosed()
}

// Client is the protocol engine for one server connection.
type Client struct {
	conn net.Conn
	sink EventSink

	sendMu sync.Mutex

	mu       sync.Mutex
	loggedIn bool
	closed   bool
}

// Dial connects to the server and starts the read loop.
func Dial(addr string, sink EventSink) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}

	c := &Client{conn: conn, sink: sink}
	go c.readLoop()
	return c, nil
}

// Close tears down the connection. A close initiated here is not reported
// to the sink as a server shutdown.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) send(line string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrNotConnected
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_, err := c.conn.Write([]byte(line))
	return err
}

func (c *Client) sendControl(cmd string, args ...string) error {
	return c.send(protocol.EncodeControl(cmd, args...))
}

// Register asks the server to create an account. The credential hash is
// opaque to the engine; derive it with auth.HashCredential or any
// compatible hasher.
func (c *Client) Register(username, credentialHash string) error {
	return c.sendControl(protocol.CmdRegUser, username, credentialHash)
}

// Login authenticates an existing account.
func (c *Client) Login(username, credentialHash string) error {
	return c.sendControl(protocol.CmdLogin, username, credentialHash)
}

// Logoff announces an explicit logout. The caller closes the connection
// afterwards; the server does not.
func (c *Client) Logoff() error {
	c.mu.Lock()
	c.loggedIn = false
	c.mu.Unlock()
	return c.sendControl(protocol.CmdLogoff)
}

// RequestUsers asks for a roster snapshot, answered by a UserList event.
func (c *Client) RequestUsers() error {
	return c.sendControl(protocol.CmdGetUsers)
}

// ConnectTo requests a chat link with another user.
func (c *Client) ConnectTo(username string) error {
	return c.sendControl(protocol.CmdConnect, username)
}

// Respond answers a ConnectRequest from the named user.
func (c *Client) Respond(username string, accept bool) error {
	answer := protocol.AnswerNo
	if accept {
		answer = protocol.AnswerYes
	}
	return c.sendControl(protocol.CmdResponse, username, answer)
}

// Disconnect tears down the chat link with the named user on their side.
func (c *Client) Disconnect(username string) error {
	return c.sendControl(protocol.CmdDisconnect, username)
}

// SendStatus announces a new presence. Only online and busy are legal;
// offline is reached through Logoff.
func (c *Client) SendStatus(p models.Presence) error {
	return c.sendControl(protocol.CmdStatusUpdate, p.Code())
}

// SendChat sends chat text to a linked user. The text is escaped here,
// before transmission; it travels and is stored with the markers intact.
func (c *Client) SendChat(username, text string) error {
	return c.send(protocol.EncodeChat(username, protocol.EscapePayload(text)))
}

// readLoop decodes server lines until the transport fails. A failure after
// login is an abnormal server shutdown and is surfaced to the sink; before
// login, or after a local Close, it is a silent close.
func (c *Client) readLoop() {
	reader := bufio.NewReader(c.conn)
	for {
		raw, err := reader.ReadString('\n')
		if err != nil {
			c.mu.Lock()
			abnormal := c.loggedIn && !c.closed
			c.closed = true
			c.mu.Unlock()
			if abnormal {
				c.sink.ServerClosed()
			}
			return
		}

		if strings.TrimSpace(raw) == "" {
			continue
		}

		line, err := protocol.Decode(raw)
		if err != nil {
			log.Printf("Ignoring malformed server line: %q", strings.TrimSpace(raw))
			continue
		}
		c.dispatch(line)
	}
}

func (c *Client) dispatch(line *protocol.Line) {
	if line.Tag == protocol.TagChat {
		c.sink.ChatReceived(line.Peer, line.Payload)
		return
	}

	switch line.Command {
	case protocol.CmdConnect:
		if len(line.Args) >= 1 {
			c.sink.ConnectRequest(line.Args[0])
		}
	case protocol.CmdResponse:
		if len(line.Args) >= 2 {
			c.sink.ConnectResponse(line.Args[0], strings.EqualFold(line.Args[1], protocol.AnswerYes))
		}
	case protocol.CmdDisconnect:
		if len(line.Args) >= 1 {
			c.sink.Disconnected(line.Args[0])
		}
	case protocol.CmdUserList:
		c.sink.UserList(parseUserList(line.Args))
	case protocol.CmdLoginFail:
		reason := ""
		if len(line.Args) >= 1 {
			reason = line.Args[0]
		}
		c.sink.LoginFailed(reason)
	case protocol.CmdLoginSuccess:
		c.mu.Lock()
		c.loggedIn = true
		c.mu.Unlock()
		c.sink.LoginSucceeded()
	case protocol.CmdRegUserFail:
		c.sink.RegisterFailed()
	case protocol.CmdStatusUpdate:
		if len(line.Args) >= 2 {
			c.sink.StatusChanged(line.Args[0], line.Args[1])
		}
	case protocol.CmdError:
		c.sink.ErrorReceived(strings.Join(line.Args, ";"))
	default:
		log.Printf("Ignoring unknown server command %q", line.Command)
	}
}

// parseUserList turns the flattened (username, code) pairs of a USERLIST
// line into roster entries. A trailing unpaired field is dropped.
func parseUserList(args []string) []models.UserStatus {
	var users []models.UserStatus
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == "" {
			continue
		}
		users = append(users, models.UserStatus{Username: args[i], Code: args[i+1]})
	}
	return users
}
