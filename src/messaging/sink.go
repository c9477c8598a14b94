package messaging

import (
	"github.com/mosaicnetworks/murmur/src/common"
	"github.com/sirupsen/logrus"
)

// Sink receives decoded messages. In a full deployment it is the chat
// front-end.
type Sink interface {
	Deliver(m Message)
}

// LogSink writes messages to the log.
type LogSink struct {
	logger *logrus.Entry
}

// NewLogSink returns a LogSink.
func NewLogSink(logger *logrus.Entry) *LogSink {
	return &LogSink{logger: logger}
}

// Deliver implements the Sink interface.
func (s *LogSink) Deliver(m Message) {
	fields := logrus.Fields{
		"event": common.ShortID(m.EventID),
		"layer": m.Layer,
	}

	if m.Undecryptable {
		s.logger.WithFields(fields).Debug("Undecryptable message")
		return
	}

	fields["nick"] = m.Nick
	fields["sealed"] = m.Sealed
	if m.Channel != "" {
		fields["channel"] = m.Channel
	}
	if m.Contact != "" {
		fields["contact"] = m.Contact
	}

	s.logger.WithFields(fields).Info(m.Text)
}

// ChanSink delivers messages on a channel. Deliver blocks when the channel is
// full.
type ChanSink chan Message

// Deliver implements the Sink interface.
func (s ChanSink) Deliver(m Message) {
	s <- m
}
