package generator

import (
	"context"
	"io"
	"strings"

	"github.com/onnwee/s4u-chat/backend/s4u"
)

// Echo answers by repeating the message back, split on sentence boundaries.
// It is used when no model endpoint is configured.
type Echo struct{}

// Generate implements s4u.Generator.
func (Echo) Generate(_ context.Context, req s4u.Request) (s4u.Stream, error) {
	co := newCoalescer(1)
	text := "@" + req.Message.SenderName + " " + req.Message.Text
	chunks := append(co.consume(text), co.finalize()...)
	return &sliceStream{chunks: chunks}, nil
}

type sliceStream struct {
	chunks []string
	next   int
}

func (s *sliceStream) Recv() (string, error) {
	if s.next >= len(s.chunks) {
		return "", io.EOF
	}
	c := s.chunks[s.next]
	s.next++
	return strings.TrimSpace(c), nil
}

func (s *sliceStream) Close() error { return nil }
