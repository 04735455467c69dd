// Package notify delivers overdue-task notifications to task owners.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/phrazzld/tasksync/internal/platform/logger"
)

// DefaultSubject is the NATS subject overdue notifications are published on.
const DefaultSubject = "tasks.overdue"

// Notifier tells a user about one of their tasks.
type Notifier interface {
	NotifyOverdue(ctx context.Context, userID, taskID uuid.UUID) error
}

// Publisher is the subset of *nats.Conn used by NATSNotifier.
type Publisher interface {
	Publish(subj string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// Message is the JSON body published for each notification.
type Message struct {
	UserID uuid.UUID `json:"user_id"`
	TaskID uuid.UUID `json:"task_id"`
	SentAt time.Time `json:"sent_at"`
}

// NATSNotifier publishes notifications to a NATS subject.
type NATSNotifier struct {
	pub     Publisher
	subject string
	now     func() time.Time
	logger  *slog.Logger
}

// NewNATSNotifier creates a notifier publishing on subject through pub.
func NewNATSNotifier(pub Publisher, subject string, log *slog.Logger) *NATSNotifier {
	if subject == "" {
		subject = DefaultSubject
	}
	if log == nil {
		log = slog.Default()
	}
	return &NATSNotifier{
		pub:     pub,
		subject: subject,
		now:     time.Now,
		logger:  log.With(slog.String("component", "notifier")),
	}
}

// NotifyOverdue implements Notifier.
func (n *NATSNotifier) NotifyOverdue(ctx context.Context, userID, taskID uuid.UUID) error {
	data, err := json.Marshal(Message{UserID: userID, TaskID: taskID, SentAt: n.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := n.pub.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	logger.FromContextOrDefault(ctx, n.logger).Debug("overdue notification published",
		slog.String("subject", n.subject),
		slog.String("user_id", userID.String()),
		slog.String("task_id", taskID.String()))
	return nil
}

// LogNotifier only logs notifications. It is used when no NATS server is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{logger: log.With(slog.String("component", "notifier"))}
}

// NotifyOverdue implements Notifier.
func (n *LogNotifier) NotifyOverdue(ctx context.Context, userID, taskID uuid.UUID) error {
	logger.FromContextOrDefault(ctx, n.logger).Info("task overdue",
		slog.String("user_id", userID.String()),
		slog.String("task_id", taskID.String()))
	return nil
}

// Connect dials the NATS server at url with a client name and reconnect handlers
// that log through log.
func Connect(url string, log *slog.Logger) (*nats.Conn, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "nats"))

	nc, err := nats.Connect(url,
		nats.Name("tasksync"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}
