package bus

import (
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"watchtower/internal/analyzer"
	"watchtower/internal/collector"
)

const (
	SubjectSuspectMoves         = "ccc.watchtower.suspect_moves"
	SubjectSuspectNomadsCreated = "ccc.watchtower.suspect_nomads_created"
	SubjectMetrics              = "ccc.watchtower.metrics"
)

// Comments carried by suspect messages. Consumers match on these strings.
const (
	CommentSuspectMoves         = "nombre de déplacements suspects"
	CommentSuspectNomadsCreated = "nombre de créations de nomads suspects"
)

var suspectSubjects = map[analyzer.Behavior]string{
	analyzer.BehaviorMoves:         SubjectSuspectMoves,
	analyzer.BehaviorNomadsCreated: SubjectSuspectNomadsCreated,
}

var suspectComments = map[analyzer.Behavior]string{
	analyzer.BehaviorMoves:         CommentSuspectMoves,
	analyzer.BehaviorNomadsCreated: CommentSuspectNomadsCreated,
}

// SuspectMessage is the wire body of a suspect report.
type SuspectMessage struct {
	SuspectIDs []string `json:"suspect_ids"`
	Comment    string   `json:"comment"`
}

// SuspectSubject returns the subject reports for behavior are published on.
func SuspectSubject(behavior analyzer.Behavior) (string, error) {
	subject, ok := suspectSubjects[behavior]
	if !ok {
		return "", fmt.Errorf("no subject for behavior %q", behavior)
	}
	return subject, nil
}

func EncodeSuspects(report analyzer.SuspectReport) ([]byte, error) {
	comment, ok := suspectComments[report.Behavior]
	if !ok {
		return nil, fmt.Errorf("no comment for behavior %q", report.Behavior)
	}
	ids := report.SuspectIDs
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(SuspectMessage{SuspectIDs: ids, Comment: comment})
}

func DecodeSuspects(data []byte) (SuspectMessage, error) {
	var msg SuspectMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SuspectMessage{}, err
	}
	return msg, nil
}

// Conn is the part of a NATS connection the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

type Publisher struct {
	Conn   Conn
	nc     *nats.Conn
	logger *slog.Logger
}

func NewPublisher(url string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := connect(url, "watchtower-publisher", logger)
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn, nc: conn, logger: logger}, nil
}

// NewPublisherWithConn wraps an existing connection.
func NewPublisherWithConn(conn Conn, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{Conn: conn, logger: logger}
}

func (p *Publisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

func (p *Publisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

// PublishSuspects sends one report on its behavior's subject.
func (p *Publisher) PublishSuspects(report analyzer.SuspectReport) error {
	subject, err := SuspectSubject(report.Behavior)
	if err != nil {
		return err
	}
	data, err := EncodeSuspects(report)
	if err != nil {
		return err
	}
	if err := p.Conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Info("published suspects",
		slog.String("subject", subject),
		slog.Int("count", len(report.SuspectIDs)),
	)
	return nil
}

func (p *Publisher) PublishSnapshot(snap *collector.Snapshot) error {
	if err := p.Publish(SubjectMetrics, snap); err != nil {
		return fmt.Errorf("publish %s: %w", SubjectMetrics, err)
	}
	return nil
}

type Subscriber struct {
	Conn *nats.Conn
}

func NewSubscriber(url string, logger *slog.Logger) (*Subscriber, error) {
	conn, err := connect(url, "watchtower-subscriber", logger)
	if err != nil {
		return nil, err
	}
	return &Subscriber{Conn: conn}, nil
}

func (s *Subscriber) Close() {
	if s.Conn != nil {
		_ = s.Conn.Drain()
		s.Conn.Close()
	}
}

// SubscribeSuspects delivers every suspect message for behavior to handler.
// Undecodable messages are dropped.
func (s *Subscriber) SubscribeSuspects(behavior analyzer.Behavior, handler func(SuspectMessage)) (*nats.Subscription, error) {
	subject, err := SuspectSubject(behavior)
	if err != nil {
		return nil, err
	}
	return s.Conn.Subscribe(subject, func(msg *nats.Msg) {
		decoded, err := DecodeSuspects(msg.Data)
		if err != nil {
			return
		}
		handler(decoded)
	})
}

func connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
}
