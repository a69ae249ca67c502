package server

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"smsg/protocol"
)

// Session is the server-side state for one live connection. It is created
// on accept and destroyed when the connection closes. A session binds at
// most one account, set once on successful login or registration.
//
// peers holds this session's directed chat authorizations: the sessions it
// may forward chat lines to, keyed by their username. Entries are added by
// the CONNECT/RESPONSE handshake and dropped when the referenced session is
// destroyed.
type Session struct {
	ID   uuid.UUID
	conn net.Conn

	mu       sync.Mutex
	username string
	peers    map[string]*Session

	// writeMu serializes writes so broadcasts and replies from different
	// workers never interleave partial lines on one transport.
	writeMu      sync.Mutex
	writeTimeout time.Duration
}

func newSession(conn net.Conn, writeTimeout time.Duration) *Session {
	return &Session{
		ID:           uuid.New(),
		conn:         conn,
		peers:        make(map[string]*Session),
		writeTimeout: writeTimeout,
	}
}

// Username returns the bound account name, or "" before login.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

func (s *Session) bound() bool {
	return s.Username() != ""
}

// bind attaches the account to this session. Called once; a session is
// never reassigned.
func (s *Session) bind(username string) {
	s.mu.Lock()
	s.username = username
	s.mu.Unlock()
}

func (s *Session) addPeer(username string, peer *Session) {
	s.mu.Lock()
	s.peers[username] = peer
	s.mu.Unlock()
}

func (s *Session) peer(username string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[username]
	return p, ok
}

func (s *Session) removePeer(username string) {
	s.mu.Lock()
	delete(s.peers, username)
	s.mu.Unlock()
}

func (s *Session) peerList() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*Session, 0, len(s.peers))
	for _, p := range s.peers {
		list = append(list, p)
	}
	return list
}

func (s *Session) writeLine(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeLineLocked(line)
}

// writeLineLocked is writeLine for callers already holding writeMu.
func (s *Session) writeLineLocked(line string) error {
	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	_, err := s.conn.Write([]byte(line))
	return err
}

func (s *Session) sendControl(cmd string, args ...string) {
	if err := s.writeLine(protocol.EncodeControl(cmd, args...)); err != nil {
		log.Printf("Error writing to session %s: %v", s.ID, err)
	}
}

func (s *Session) sendError(message string) {
	s.sendControl(protocol.CmdError, message)
}
