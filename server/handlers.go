package server

import (
	"errors"
	"log"

	"smsg/models"
	"smsg/protocol"
	"smsg/registry"
)

// dispatch routes one decoded line to its handler. The session state gates
// the command surface: before an account is bound only REGUSER and LOGIN
// are legal; after binding they are not. Out-of-state and malformed lines
// are discarded with an ERROR reply and never terminate the session.
// Returns true when the session asked to close.
func (s *Server) dispatch(sess *Session, line *protocol.Line) bool {
	if line.Tag == protocol.TagChat {
		s.handleChat(sess, line.Peer, line.Payload)
		return false
	}

	bound := sess.bound()

	switch line.Command {
	case protocol.CmdRegUser:
		if bound {
			sess.sendError("Already logged in")
			return false
		}
		s.handleRegUser(sess, line.Args)
	case protocol.CmdLogin:
		if bound {
			sess.sendError("Already logged in")
			return false
		}
		s.handleLogin(sess, line.Args)
	case protocol.CmdLogoff:
		if !bound {
			sess.sendError("Not logged in")
			return false
		}
		s.handleLogoff(sess)
		return true
	case protocol.CmdGetUsers:
		if !bound {
			sess.sendError("Not logged in")
			return false
		}
		s.handleGetUsers(sess)
	case protocol.CmdConnect:
		if !bound {
			sess.sendError("Not logged in")
			return false
		}
		s.handleConnect(sess, line.Args)
	case protocol.CmdResponse:
		if !bound {
			sess.sendError("Not logged in")
			return false
		}
		s.handleResponse(sess, line.Args)
	case protocol.CmdDisconnect:
		if !bound {
			sess.sendError("Not logged in")
			return false
		}
		s.handleDisconnect(sess, line.Args)
	case protocol.CmdStatusUpdate:
		if !bound {
			sess.sendError("Not logged in")
			return false
		}
		s.handleStatusUpdate(sess, line.Args)
	default:
		sess.sendError("Unknown command")
	}
	return false
}

func (s *Server) handleRegUser(sess *Session, args []string) {
	if len(args) < 2 || args[0] == "" || args[1] == "" {
		sess.sendError("Malformed REGUSER")
		return
	}
	username, credentialHash := args[0], args[1]

	if err := s.reg.Register(username, credentialHash); err != nil {
		sess.sendControl(protocol.CmdRegUserFail)
		return
	}

	// Registration implicitly logs the new account in.
	s.completeLogin(sess, username)
	log.Printf("User %s registered (session %s)", username, sess.ID)
}

func (s *Server) handleLogin(sess *Session, args []string) {
	if len(args) < 2 || args[0] == "" || args[1] == "" {
		sess.sendError("Malformed LOGIN")
		return
	}
	username, credentialHash := args[0], args[1]

	if err := s.reg.Login(username, credentialHash); err != nil {
		reason := "Wrong username or password"
		if errors.Is(err, registry.ErrAlreadyOnline) {
			reason = "Already logged in"
		}
		sess.sendControl(protocol.CmdLoginFail, reason)
		return
	}

	s.completeLogin(sess, username)
	log.Printf("User %s logged in (session %s)", username, sess.ID)
}

func (s *Server) handleLogoff(sess *Session) {
	username := sess.Username()

	// Scrub the reverse links before freeing the account, so a relog under
	// the same name can never race the scrub, then announce the logoff.
	for _, p := range sess.peerList() {
		p.removePeer(username)
	}
	s.reg.Logout(username)
	s.broadcastStatus(sess, username, models.CodeOffline)

	log.Printf("User %s logged off (session %s)", username, sess.ID)
}

func (s *Server) handleGetUsers(sess *Session) {
	roster := s.reg.ListOthers(sess.Username())

	args := make([]string, 0, len(roster)*2)
	for _, entry := range roster {
		args = append(args, entry.Username, entry.Code)
	}
	sess.sendControl(protocol.CmdUserList, args...)
}

// handleConnect forwards a link request to the target's live session. The
// requester's own username replaces the target field so the receiving
// client knows who is asking.
func (s *Server) handleConnect(sess *Session, args []string) {
	if len(args) < 1 || args[0] == "" {
		sess.sendError("Malformed CONNECT")
		return
	}
	target := args[0]

	peer, ok := s.findSession(target)
	if !ok {
		sess.sendError("User not online")
		return
	}
	peer.sendControl(protocol.CmdConnect, sess.Username())
}

// handleResponse forwards the answer back to the requester and, on YES,
// records both directed links so either side may forward chat to the other.
func (s *Server) handleResponse(sess *Session, args []string) {
	if len(args) < 2 || args[0] == "" {
		sess.sendError("Malformed RESPONSE")
		return
	}
	requester, answer := args[0], args[1]

	req, ok := s.findSession(requester)
	if !ok {
		sess.sendError("User not in online list")
		return
	}

	// Record both directed links before forwarding the answer: the
	// requester may start chatting the moment it sees the YES.
	if answer == protocol.AnswerYes {
		sess.addPeer(requester, req)
		req.addPeer(sess.Username(), sess)
	}

	req.sendControl(protocol.CmdResponse, sess.Username(), answer)
}

// handleDisconnect notifies the linked peer and drops the initiator from
// the peer's link set. The initiator's own entry survives until logoff:
// the link pair is two independent directed records and this path only
// tears down the notified side.
func (s *Server) handleDisconnect(sess *Session, args []string) {
	if len(args) < 1 || args[0] == "" {
		sess.sendError("Malformed DISCONNECT")
		return
	}
	target := args[0]
	username := sess.Username()

	peer, ok := sess.peer(target)
	if !ok {
		sess.sendError("No link to user")
		return
	}

	// Drop the reverse link before notifying, so the peer never observes
	// the notice while the link still exists.
	peer.removePeer(username)
	peer.sendControl(protocol.CmdDisconnect, username)
}

func (s *Server) handleStatusUpdate(sess *Session, args []string) {
	if len(args) < 1 {
		sess.sendError("Malformed STATUSUPDATE")
		return
	}
	code := args[0]

	presence, ok := models.PresenceFromCode(code)
	if !ok {
		sess.sendError("Invalid status code")
		return
	}

	username := sess.Username()
	s.reg.SetPresence(username, presence)
	s.broadcastStatus(sess, username, code)
}

// handleChat forwards a chat line to the addressed peer. The payload passes
// through with its escape markers intact; only the peer field is rewritten
// from the target's name to the sender's.
func (s *Server) handleChat(sess *Session, target, payload string) {
	if !sess.bound() {
		sess.sendError("Not logged in")
		return
	}

	peer, ok := sess.peer(target)
	if !ok {
		sess.sendError("No link to user")
		return
	}

	if err := peer.writeLine(protocol.EncodeChat(sess.Username(), payload)); err != nil {
		log.Printf("Could not forward chat from %s to %s: %v", sess.Username(), target, err)
	}
}
