package handlers

import (
	"encoding/json"

	"github.com/matrixji/beast-examples/internal/server"
)

// Message types understood by the handlers installed with Messages.
const (
	TypeEcho      = "echo"
	TypeBroadcast = "broadcast"
)

// InstallMessages registers the WebSocket message handlers of srv: echo
// sends the envelope back to its sender, broadcast relays it to every
// other session. Messages of any other type are broadcast.
func InstallMessages(srv *server.Server) {
	r := srv.Messages()
	r.HandleFunc(TypeEcho, echo)
	bc := broadcaster(srv.Hub())
	r.Handle(TypeBroadcast, bc)
	r.Fallback(bc)
}

func echo(s *server.WSSession, env server.Envelope) {
	_ = s.SendJSON(env)
}

func broadcaster(hub *server.Hub) server.MessageHandlerFunc {
	return func(s *server.WSSession, env server.Envelope) {
		if env.Type == "" {
			env.Type = TypeBroadcast
		}
		env.From = s.ID()
		payload, err := json.Marshal(env)
		if err != nil {
			return
		}
		hub.Broadcast(s.ID(), payload)
	}
}
