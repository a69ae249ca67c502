package server

import (
	"bufio"
	"errors"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"smsg/models"
	"smsg/protocol"
	"smsg/registry"
)

type Config struct {
	Port         int
	WriteTimeout time.Duration
}

// Server accepts connections and runs one worker per session. The live
// session set is shared by every worker and guarded by mu; the account
// registry carries its own lock.
type Server struct {
	cfg *Config
	reg *registry.Registry

	mu       sync.RWMutex
	listener net.Listener
	sessions map[uuid.UUID]*Session
}

func New(reg *registry.Registry, cfg *Config) *Server {
	return &Server{
		cfg:      cfg,
		reg:      reg,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Start listens on the configured port and serves until the listener is
// closed. A bind failure is fatal to the whole server.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.cfg.Port))
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve runs the accept loop on an existing listener.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	log.Printf("SMSG server listening on %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConnection(conn)
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleConnection is the per-session worker: it owns the blocking line
// reads and all command handling for one connection.
func (s *Server) handleConnection(conn net.Conn) {
	sess := newSession(conn, s.cfg.WriteTimeout)
	s.addSession(sess)

	remoteAddr := conn.RemoteAddr().String()
	log.Printf("New client connected from %s (session %s)", remoteAddr, sess.ID)

	defer func() {
		s.teardown(sess, remoteAddr)
		conn.Close()
	}()

	reader := bufio.NewReader(conn)
	for {
		raw, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				log.Printf("Error reading from %s: %v", remoteAddr, err)
			}
			return
		}

		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}

		// Credential-carrying lines are never logged.
		if !strings.Contains(trimmed, protocol.CmdLogin+";") && !strings.Contains(trimmed, protocol.CmdRegUser+";") {
			log.Printf("Received from %s: %q", remoteAddr, trimmed)
		}

		line, err := protocol.Decode(raw)
		if err != nil {
			log.Printf("Protocol violation from %s: %v, line: %q", remoteAddr, err, trimmed)
			sess.sendError("Invalid line")
			continue
		}

		if s.dispatch(sess, line) {
			return
		}
	}
}

// teardown moves the session to its terminal state: out of the live set,
// account offline with a presence broadcast if it was bound, and every
// reverse peer link dropped so no other session forwards to a dead
// transport.
func (s *Server) teardown(sess *Session, remoteAddr string) {
	s.removeSession(sess)

	username := sess.Username()
	if username == "" {
		log.Printf("Client disconnected from %s", remoteAddr)
		return
	}

	// Scrub every live session, not just this one's own peers: a one-sided
	// DISCONNECT leaves the other side still holding a link to this session.
	for _, other := range s.sessionList() {
		other.removePeer(username)
	}

	// An explicit LOGOFF already did this bookkeeping; the presence check
	// keeps the offline broadcast to exactly one per session.
	if presence, ok := s.reg.Presence(username); ok && presence != models.PresenceOffline {
		s.reg.Logout(username)
		s.broadcastStatus(sess, username, models.CodeOffline)
	}

	log.Printf("Client %s disconnected from %s", username, remoteAddr)
}

// completeLogin binds the account to its session, sends the success reply,
// and announces the new presence. The bind and the recipient snapshot share
// one critical section, so a session binding concurrently is either in the
// snapshot or not a recipient at all. The session's write lock is held from
// before the bind until the reply is written: other workers only target a
// session once it is bound, so their broadcasts queue behind the reply and
// LOGINSUCCESS is always the first line the client reads.
func (s *Server) completeLogin(sess *Session, username string) {
	sess.writeMu.Lock()
	s.mu.Lock()
	sess.bind(username)
	recipients := s.recipientsLocked(sess)
	s.mu.Unlock()
	err := sess.writeLineLocked(protocol.EncodeControl(protocol.CmdLoginSuccess))
	sess.writeMu.Unlock()
	if err != nil {
		log.Printf("Error writing to session %s: %v", sess.ID, err)
	}

	s.broadcastTo(recipients, username, models.CodeOnline)
}

// recipients snapshots the sessions bound at this instant, excluding from.
// The set is fixed once, under the server lock, never re-evaluated at
// write time.
func (s *Server) recipients(from *Session) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recipientsLocked(from)
}

func (s *Server) recipientsLocked(from *Session) []*Session {
	list := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess == from || !sess.bound() {
			continue
		}
		list = append(list, sess)
	}
	return list
}

// broadcastStatus sends a STATUSUPDATE for username to every session bound
// when the snapshot is taken, except the originating one.
func (s *Server) broadcastStatus(from *Session, username, code string) {
	s.broadcastTo(s.recipients(from), username, code)
}

func (s *Server) broadcastTo(recipients []*Session, username, code string) {
	for _, sess := range recipients {
		sess.sendControl(protocol.CmdStatusUpdate, username, code)
	}
}

func (s *Server) addSession(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

func (s *Server) removeSession(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess.ID)
}

func (s *Server) sessionList() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess)
	}
	return list
}

// findSession returns the live session bound to username.
func (s *Server) findSession(username string) (*Session, bool) {
	for _, sess := range s.sessionList() {
		if sess.Username() == username {
			return sess, true
		}
	}
	return nil, false
}

// Shutdown closes the listener and every live connection. Bound accounts
// are marked offline; no broadcast is sent since every session is going
// away.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	for _, sess := range s.sessionList() {
		if username := sess.Username(); username != "" {
			s.reg.Logout(username)
		}
		sess.conn.Close()
	}
	log.Printf("SMSG server shut down")
}

// Stats returns server statistics as a formatted string.
func (s *Server) Stats() string {
	var online []string
	for _, sess := range s.sessionList() {
		if username := sess.Username(); username != "" {
			online = append(online, username)
		}
	}

	return "connections=" + strconv.Itoa(len(s.sessionList())) +
		",accounts=" + strconv.Itoa(s.reg.Count()) +
		",online=" + strings.Join(online, " ")
}
