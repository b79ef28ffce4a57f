package gossip

import (
	"github.com/rs/zerolog"

	"dynamo/internal/metrics"
	"dynamo/internal/protocol"
)

// Server handles messages arriving on the gossip socket.
type Server struct {
	membership *Membership
	logger     zerolog.Logger
}

// NewServer creates a gossip message handler.
func NewServer(membership *Membership, logger zerolog.Logger) *Server {
	return &Server{membership: membership, logger: logger}
}

// Handle applies one gossip-socket message.
func (s *Server) Handle(msg *protocol.Message) {
	switch p := msg.Payload.(type) {
	case protocol.NodeList:
		s.logger.Debug().Str("from", msg.Source.Address).Int("members", len(p.Nodes)).Msg("received gossip")
		s.membership.Merge(msg.Source, p.Nodes)
	case protocol.Ping:
		// The sender just proved it is alive.
		s.logger.Debug().Str("from", msg.Source.Address).Msg("received ping")
		s.membership.Merge(msg.Source, nil)
	default:
		metrics.RecordDrop("gossip", "unexpected")
		s.logger.Warn().Stringer("type", msg.Type()).Str("from", msg.Source.Address).Msg("unexpected message on gossip port")
	}
}
