package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"simtrade-core/internal/errs"
	"simtrade-core/internal/events"
	"simtrade-core/pkg/i18n"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 4096
)

// Client message types.
const (
	wsSubscribe   = "subscribe"
	wsUnsubscribe = "unsubscribe"
	wsPing        = "ping"
	wsResume      = "resume"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type clientMessage struct {
	Type   string   `json:"type"`
	Topic  string   `json:"topic"`
	Topics []string `json:"topics"`
	Since  uint64   `json:"since"`
}

type controlMessage struct {
	Type     string    `json:"type"`
	Topic    string    `json:"topic,omitempty"`
	Code     string    `json:"code,omitempty"`
	Message  string    `json:"message,omitempty"`
	Replayed int       `json:"replayed,omitempty"`
	TS       time.Time `json:"ts"`
}

// topicAllowed is the push ACL: prices and the market summary are public,
// user topics belong to their user. Admins may watch anything.
func topicAllowed(p Principal, topic string) bool {
	if p.IsAdmin() {
		return topic != ""
	}
	switch {
	case topic == events.MarketSummaryTopic:
		return true
	case strings.HasPrefix(topic, events.PricePrefix):
		return len(topic) > len(events.PricePrefix)
	default:
		return topic == events.UserTradesTopic(p.UserID) || topic == events.UserBalanceTopic(p.UserID)
	}
}

type wsClient struct {
	conn    *websocket.Conn
	sub     *events.Subscriber
	p       Principal
	lang    i18n.Language
	ctrl    chan controlMessage
	done    chan struct{}
	limiter *rate.Limiter
	log     *zap.Logger
}

// websocket authenticates before upgrading, then serves the push protocol:
// the caller's own user topics are attached on connect and the client
// drives everything else.
func (s *Server) websocket(c *gin.Context) {
	p, err := s.Auth.Verify(bearerToken(c))
	if err == nil {
		_, err = s.Users.Ensure(c.Request.Context(), p.UserID)
	}
	if err != nil {
		s.abort(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	cl := &wsClient{
		conn:    conn,
		sub:     s.Bus.NewSubscriber(),
		p:       p,
		lang:    i18n.ParseAcceptLanguage(c.GetHeader("Accept-Language")),
		ctrl:    make(chan controlMessage, 32),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		log:     s.log.With(zap.String("user_id", p.UserID)),
	}
	cl.sub.Subscribe(events.UserTradesTopic(p.UserID))
	cl.sub.Subscribe(events.UserBalanceTopic(p.UserID))
	cl.log.Debug("🔌 ws connected")

	go cl.writeLoop()
	cl.readLoop()
}

func (cl *wsClient) readLoop() {
	defer func() {
		close(cl.done)
		cl.sub.Close()
		cl.conn.Close()
		cl.log.Debug("🔌 ws disconnected", zap.Uint64("dropped", cl.sub.Dropped()))
	}()

	cl.conn.SetReadLimit(wsMaxMessageSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cl.log.Debug("ws read error", zap.Error(err))
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			cl.sendError(errs.Wrap(err, errs.InvalidArgument, "malformed message"))
			continue
		}
		_ = cl.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		if !cl.limiter.Allow() {
			cl.send(controlMessage{
				Type:    "error",
				Code:    codeRateLimited,
				Message: i18n.For(cl.lang).RateLimited,
			})
			continue
		}
		cl.handle(msg)
	}
}

func (cl *wsClient) handle(msg clientMessage) {
	topics := msg.Topics
	if msg.Topic != "" {
		topics = append(topics, msg.Topic)
	}

	switch msg.Type {
	case wsPing:
		cl.send(controlMessage{Type: "pong"})
	case wsSubscribe, wsUnsubscribe, wsResume:
		if len(topics) == 0 {
			cl.sendError(errs.New(errs.InvalidArgument, "topic is required"))
			return
		}
		for _, t := range topics {
			cl.apply(msg.Type, t, msg.Since)
		}
	default:
		cl.sendError(errs.Newf(errs.InvalidArgument, "unknown message type %q", msg.Type))
	}
}

func (cl *wsClient) apply(kind, topic string, since uint64) {
	if kind != wsUnsubscribe && !topicAllowed(cl.p, topic) {
		cl.sendError(errs.Newf(errs.Forbidden, "topic %s is not yours", topic))
		return
	}
	switch kind {
	case wsSubscribe:
		cl.sub.Subscribe(topic)
		cl.send(controlMessage{Type: "subscribed", Topic: topic})
	case wsUnsubscribe:
		cl.sub.Unsubscribe(topic)
		cl.send(controlMessage{Type: "unsubscribed", Topic: topic})
	case wsResume:
		n := cl.sub.Resume(topic, since)
		cl.send(controlMessage{Type: "resumed", Topic: topic, Replayed: n})
	}
}

func (cl *wsClient) send(m controlMessage) {
	m.TS = time.Now().UTC()
	select {
	case cl.ctrl <- m:
	case <-cl.done:
	default:
		cl.log.Warn("ws control queue full")
	}
}

func (cl *wsClient) sendError(err error) {
	code := errs.CodeOf(err)
	cl.send(controlMessage{
		Type:    "error",
		Code:    string(code),
		Message: i18n.ForCode(cl.lang, string(code)),
	})
}

// writeLoop is the only writer of conn.
func (cl *wsClient) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case <-cl.done:
			return
		case msg, ok := <-cl.sub.C():
			if !ok {
				_ = cl.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := cl.writeJSON(msg); err != nil {
				return
			}
		case m := <-cl.ctrl:
			if err := cl.writeJSON(m); err != nil {
				return
			}
		case <-ticker.C:
			if err := cl.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (cl *wsClient) writeJSON(v any) error {
	_ = cl.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return cl.conn.WriteJSON(v)
}

func (cl *wsClient) write(kind int, data []byte) error {
	_ = cl.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return cl.conn.WriteMessage(kind, data)
}
