package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
)

// Commands is the slice of the engine the gateway drives on behalf of
// the chat connector.
type Commands interface {
	StartQuiz(ctx context.Context, chatID int64, quizID string, initiatorID int64) (string, error)
	StopQuiz(ctx context.Context, chatID, requesterID int64, moderator bool) error
	Join(chatID, userID int64, displayName string) error
	Status(chatID int64) (domain.SessionSnapshot, error)
	HandlePollAnswer(ev domain.PollAnswerEvent)
}

// ErrNotConnected is returned when no chat connector is attached; the
// engine treats it like any other recoverable send failure.
var ErrNotConnected = errors.New("chat gateway not connected")

const ackTimeout = 10 * time.Second

// Gateway bridges the engine to a chat connector over one websocket.
// Outbound poll/message requests are correlated frames awaiting an ack
// carrying the transport's poll ref; inbound frames deliver poll answers
// and chat commands.
type Gateway struct {
	engine   Commands
	log      *logrus.Entry
	upgrader websocket.Upgrader

	reqSeq  atomic.Uint64
	mu      sync.Mutex
	conn    *connState
	pending map[string]chan ackPayload
}

// connState is one attached connector. done is closed on detach so
// senders never race a closed channel.
type connState struct {
	send     chan frame
	done     chan struct{}
	closeOne sync.Once
}

func (c *connState) close() {
	c.closeOne.Do(func() { close(c.done) })
}

// NewGateway builds a gateway; engine may be nil when the gateway is
// constructed first and bound later (the engine needs a Transport to be
// built at all).
func NewGateway(engine Commands, log *logrus.Entry) *Gateway {
	return &Gateway{
		engine: engine,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pending: make(map[string]chan ackPayload),
	}
}

// Bind attaches the engine after construction. Must be called before
// ServeWS handles its first connection.
func (g *Gateway) Bind(engine Commands) {
	g.engine = engine
}

type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type pollPayload struct {
	ChatID        int64    `json:"chatId"`
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correctOption"`
	WindowSeconds int      `json:"windowSeconds"`
}

type closePollPayload struct {
	PollRef string `json:"pollRef"`
}

type messagePayload struct {
	ChatID int64  `json:"chatId"`
	Text   string `json:"text"`
}

type ackPayload struct {
	PollRef string `json:"pollRef,omitempty"`
	Error   string `json:"error,omitempty"`
}

type pollAnswerPayload struct {
	PollRef       string `json:"pollRef"`
	ParticipantID int64  `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Option        int    `json:"option"`
	At            int64  `json:"at"` // unix milliseconds, zero means "now"
}

type commandPayload struct {
	ChatID      int64  `json:"chatId"`
	QuizID      string `json:"quizId,omitempty"`
	UserID      int64  `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	Moderator   bool   `json:"moderator,omitempty"`
}

type resultPayload struct {
	OK    bool        `json:"ok"`
	Error string      `json:"error,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// PostTimedPoll implements engine.Transport.
func (g *Gateway) PostTimedPoll(ctx context.Context, chatID int64, q domain.Question) (string, error) {
	ack, err := g.request(ctx, "poll", pollPayload{
		ChatID:        chatID,
		Prompt:        q.Prompt,
		Options:       q.Options,
		CorrectOption: q.CorrectIndex,
		WindowSeconds: int(q.TimeLimit / time.Second),
	})
	if err != nil {
		return "", err
	}
	if ack.Error != "" {
		return "", fmt.Errorf("%w: post poll: %s", domain.ErrDeliveryFailure, ack.Error)
	}
	if ack.PollRef == "" {
		return "", errors.New("post poll: connector returned no poll ref")
	}
	return ack.PollRef, nil
}

// ClosePoll implements engine.Transport.
func (g *Gateway) ClosePoll(ctx context.Context, pollRef string) error {
	ack, err := g.request(ctx, "closePoll", closePollPayload{PollRef: pollRef})
	if err != nil {
		return err
	}
	if ack.Error != "" {
		return fmt.Errorf("%w: close poll: %s", domain.ErrDeliveryFailure, ack.Error)
	}
	return nil
}

// PostMessage implements engine.Transport.
func (g *Gateway) PostMessage(ctx context.Context, chatID int64, text string) error {
	ack, err := g.request(ctx, "message", messagePayload{ChatID: chatID, Text: text})
	if err != nil {
		return err
	}
	if ack.Error != "" {
		return fmt.Errorf("%w: post message: %s", domain.ErrDeliveryFailure, ack.Error)
	}
	return nil
}

func (g *Gateway) request(ctx context.Context, typ string, payload interface{}) (ackPayload, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ackPayload{}, err
	}
	id := fmt.Sprintf("r%d", g.reqSeq.Add(1))
	wait := make(chan ackPayload, 1)

	g.mu.Lock()
	conn := g.conn
	if conn == nil {
		g.mu.Unlock()
		return ackPayload{}, ErrNotConnected
	}
	g.pending[id] = wait
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, id)
		g.mu.Unlock()
	}()

	select {
	case conn.send <- frame{Type: typ, ID: id, Payload: raw}:
	case <-conn.done:
		return ackPayload{}, ErrNotConnected
	case <-ctx.Done():
		return ackPayload{}, ctx.Err()
	case <-time.After(ackTimeout):
		return ackPayload{}, ErrNotConnected
	}

	select {
	case ack := <-wait:
		return ack, nil
	case <-conn.done:
		return ackPayload{}, ErrNotConnected
	case <-ctx.Done():
		return ackPayload{}, ctx.Err()
	case <-time.After(ackTimeout):
		return ackPayload{}, fmt.Errorf("%s: ack timeout", typ)
	}
}

// ServeWS attaches a chat connector. A newly attached connector replaces
// the previous one; in-flight requests on the old connection fail and
// follow the engine's retry path.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	state := &connState{send: make(chan frame, 64), done: make(chan struct{})}
	g.attach(state)
	defer g.detach(state)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case msg := <-state.send:
				if err := conn.WriteJSON(msg); err != nil {
					g.log.WithError(err).Warn("ws write failed")
					state.close()
					return
				}
			case <-state.done:
				return
			}
		}
	}()

	g.log.Info("chat connector attached")
	for {
		var msg frame
		if err := conn.ReadJSON(&msg); err != nil {
			g.log.WithError(err).Info("chat connector detached")
			break
		}
		g.dispatch(r.Context(), state, msg)
	}
	g.detach(state)
	<-writerDone
}

func (g *Gateway) attach(state *connState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn != nil {
		g.conn.close()
	}
	g.conn = state
}

func (g *Gateway) detach(state *connState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == state {
		g.conn = nil
	}
	state.close()
}

func (g *Gateway) dispatch(ctx context.Context, state *connState, msg frame) {
	switch msg.Type {
	case "ack":
		var ack ackPayload
		if err := json.Unmarshal(msg.Payload, &ack); err != nil {
			g.log.WithError(err).Warn("bad ack payload")
			return
		}
		g.mu.Lock()
		wait, ok := g.pending[msg.ID]
		g.mu.Unlock()
		if ok {
			wait <- ack
		}

	case "pollAnswer":
		var p pollAnswerPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			g.log.WithError(err).Warn("bad pollAnswer payload")
			return
		}
		var at time.Time
		if p.At > 0 {
			at = time.UnixMilli(p.At)
		}
		g.engine.HandlePollAnswer(domain.PollAnswerEvent{
			PollRef:       p.PollRef,
			ParticipantID: p.ParticipantID,
			DisplayName:   p.DisplayName,
			Option:        p.Option,
			At:            at,
		})

	case "startQuiz":
		var c commandPayload
		if err := json.Unmarshal(msg.Payload, &c); err != nil {
			g.reply(state, msg.ID, resultPayload{OK: false, Error: "bad payload"})
			return
		}
		sessionID, err := g.engine.StartQuiz(ctx, c.ChatID, c.QuizID, c.UserID)
		g.reply(state, msg.ID, toResult(map[string]string{"sessionId": sessionID}, err))

	case "stopQuiz":
		var c commandPayload
		if err := json.Unmarshal(msg.Payload, &c); err != nil {
			g.reply(state, msg.ID, resultPayload{OK: false, Error: "bad payload"})
			return
		}
		err := g.engine.StopQuiz(ctx, c.ChatID, c.UserID, c.Moderator)
		g.reply(state, msg.ID, toResult(nil, err))

	case "join":
		var c commandPayload
		if err := json.Unmarshal(msg.Payload, &c); err != nil {
			g.reply(state, msg.ID, resultPayload{OK: false, Error: "bad payload"})
			return
		}
		err := g.engine.Join(c.ChatID, c.UserID, c.DisplayName)
		g.reply(state, msg.ID, toResult(nil, err))

	case "status":
		var c commandPayload
		if err := json.Unmarshal(msg.Payload, &c); err != nil {
			g.reply(state, msg.ID, resultPayload{OK: false, Error: "bad payload"})
			return
		}
		snap, err := g.engine.Status(c.ChatID)
		if errors.Is(err, domain.ErrNoSession) {
			g.reply(state, msg.ID, resultPayload{OK: true, Data: map[string]string{"status": "idle"}})
			return
		}
		g.reply(state, msg.ID, toResult(snap, err))

	default:
		g.log.WithField("type", msg.Type).Debug("ignoring unknown frame")
	}
}

func (g *Gateway) reply(state *connState, id string, result resultPayload) {
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	select {
	case state.send <- frame{Type: "result", ID: id, Payload: raw}:
	case <-state.done:
	default:
		g.log.Warn("dropping result frame, connector too slow")
	}
}

func toResult(data interface{}, err error) resultPayload {
	if err != nil {
		return resultPayload{OK: false, Error: err.Error()}
	}
	return resultPayload{OK: true, Data: data}
}
