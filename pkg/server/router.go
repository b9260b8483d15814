package server

import (
	"github.com/clucky/luckychat/pkg/protocol"
)

// handlerFunc handles one decoded inbound message for a session.
type handlerFunc func(msg *protocol.Message, sess *Session)

// Router dispatches decoded messages to handlers by wire type. It is
// stateless apart from the table; all state lives in the registry and
// the store the handlers close over.
type Router struct {
	server   *Server
	handlers map[string]handlerFunc
}

// NewRouter builds the dispatch table over the server's handlers.
func NewRouter(s *Server) *Router {
	r := &Router{server: s}
	r.handlers = map[string]handlerFunc{
		protocol.TypeLogin:          s.handleLogin,
		protocol.TypeRegister:       s.handleRegister,
		protocol.TypeFindPwd:        s.handleFindPwd,
		protocol.TypeText:           s.handleText,
		protocol.TypeGroup:          s.handleGroup,
		protocol.TypeHeartbeat:      s.handleHeartbeat,
		protocol.TypePing:           s.handlePing,
		protocol.TypeGetOnlineUsers: s.handleGetOnlineUsers,
		protocol.TypeLogout:         s.handleLogout,

		// Opaque relay types: resolved via `to` and forwarded verbatim.
		protocol.TypeFile:       s.handleRelay,
		protocol.TypeShake:      s.handleRelay,
		protocol.TypeScreenshot: s.handleRelay,
	}
	return r
}

// Route dispatches one message. An unrecognized type gets an error reply
// and the connection stays open. A panic inside a handler is caught
// here, logged, and converted into a generic error reply; it never kills
// the read loop.
func (r *Router) Route(msg *protocol.Message, sess *Session) {
	defer func() {
		if p := recover(); p != nil {
			errorLog.Printf("Session %d: handler panic (type=%s): %v", sess.ID, msg.Type, p)
			r.server.sendError(sess, "internal error")
		}
	}()

	handler, ok := r.handlers[msg.Type]
	if !ok {
		debugLog.Printf("Session %d: unsupported type %q", sess.ID, msg.Type)
		r.server.sendError(sess, "unsupported type: "+msg.Type)
		return
	}

	handler(msg, sess)
}
