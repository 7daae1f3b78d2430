// Package notify delivers user notifications fire-and-forget. Messages go
// to Kafka when brokers are configured and to the log otherwise.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"simtrade-core/pkg/db"
)

// Notification types.
const (
	TypeTradeClosed        = "trade_closed"
	TypeDepositConfirmed   = "deposit_confirmed"
	TypeDepositRejected    = "deposit_rejected"
	TypeWithdrawalApproved = "withdrawal_approved"
	TypeWithdrawalRejected = "withdrawal_rejected"
)

const (
	defaultQueue = 1024
	writeTimeout = 5 * time.Second
)

// Notification is the envelope written to the sink.
type Notification struct {
	Type    string          `json:"type"`
	UserID  string          `json:"user_id"`
	Origin  string          `json:"origin"`
	At      time.Time       `json:"at"`
	Subject string          `json:"subject"`
	Amount  decimal.Decimal `json:"amount"`
	Symbol  string          `json:"symbol"`
	Status  string          `json:"status"`
	Ref     string          `json:"ref"`
}

// MessageWriter is the Kafka producer surface. *kafka.Writer satisfies it.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Options configures a Sink.
type Options struct {
	// Writer is nil for the log-only sink.
	Writer MessageWriter
	Origin string
	Queue  int
	Logger *zap.Logger
	Now    func() time.Time
}

// Sink queues notifications and writes them on one goroutine. A full queue
// drops the notification.
type Sink struct {
	writer MessageWriter
	origin string
	log    *zap.Logger
	now    func() time.Time

	queue chan Notification
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool

	dropped int64
	failed  int64
}

// NewKafkaWriter builds the producer used by the sink.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		Dialer:       &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true},
		BatchTimeout: 200 * time.Millisecond,
		RequiredAcks: int(kafka.RequireOne),
	})
}

// New starts a sink.
func New(opts Options) *Sink {
	s := &Sink{
		writer: opts.Writer,
		origin: opts.Origin,
		log:    opts.Logger,
		now:    opts.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.With(zap.String("component", "notify"))
	if s.now == nil {
		s.now = time.Now
	}
	if s.origin == "" {
		s.origin = Origin()
	}
	depth := opts.Queue
	if depth <= 0 {
		depth = defaultQueue
	}
	s.queue = make(chan Notification, depth)

	s.wg.Add(1)
	go s.run()
	return s
}

// Send enqueues n without blocking.
func (s *Sink) Send(n Notification) {
	if n.At.IsZero() {
		n.At = s.now()
	}
	n.Origin = s.origin

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- n:
	default:
		s.dropped++
		s.log.Warn("⚠️ notification queue full, dropping", zap.String("type", n.Type), zap.String("user_id", n.UserID))
	}
}

// TradeClosed notifies the owner of a resolved trade.
func (s *Sink) TradeClosed(_ context.Context, t db.Trade) {
	s.Send(Notification{
		Type:    TypeTradeClosed,
		UserID:  t.UserID,
		Subject: t.Symbol + " trade closed",
		Amount:  t.RealizedPnL,
		Symbol:  t.QuoteSymbol,
		Status:  t.Status,
		Ref:     t.ID,
	})
}

// FundingReviewed notifies the owner of a reviewed deposit or withdrawal.
func (s *Sink) FundingReviewed(_ context.Context, f db.FundingRequest) {
	typ, subject := fundingType(f)
	if typ == "" {
		return
	}
	s.Send(Notification{
		Type:    typ,
		UserID:  f.UserID,
		Subject: subject,
		Amount:  f.Amount,
		Symbol:  f.Symbol,
		Status:  f.Status,
		Ref:     f.ID,
	})
}

func fundingType(f db.FundingRequest) (string, string) {
	switch {
	case f.Kind == "deposit" && f.Status == "confirmed":
		return TypeDepositConfirmed, "Deposit confirmed"
	case f.Kind == "deposit" && f.Status == "rejected":
		return TypeDepositRejected, "Deposit rejected"
	case f.Kind == "withdrawal" && f.Status == "confirmed":
		return TypeWithdrawalApproved, "Withdrawal approved"
	case f.Kind == "withdrawal" && f.Status == "rejected":
		return TypeWithdrawalRejected, "Withdrawal rejected"
	}
	return "", ""
}

func (s *Sink) run() {
	defer s.wg.Done()
	for n := range s.queue {
		s.deliver(n)
	}
}

func (s *Sink) deliver(n Notification) {
	if s.writer == nil {
		s.log.Info("📨 notification", zap.String("type", n.Type), zap.String("user_id", n.UserID),
			zap.String("subject", n.Subject), zap.String("ref", n.Ref))
		return
	}

	body, err := json.Marshal(n)
	if err != nil {
		s.log.Error("marshal notification", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(n.UserID), Value: body, Time: n.At}); err != nil {
		s.mu.Lock()
		s.failed++
		s.mu.Unlock()
		s.log.Warn("❌ notification write failed", zap.String("type", n.Type), zap.String("ref", n.Ref), zap.Error(err))
	}
}

// Stats reports dropped and failed deliveries.
func (s *Sink) Stats() (dropped, failed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped, s.failed
}

// Close drains the queue and closes the writer.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	if s.writer != nil {
		return s.writer.Close()
	}
	return nil
}
