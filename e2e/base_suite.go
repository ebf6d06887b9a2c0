package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-redis/redis/v8"
	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"

	"social-chat/auth"
	"social-chat/contract"
	"social-chat/domain/chat"
	"social-chat/infrastructure/broker"
	"social-chat/infrastructure/bus"
	"social-chat/infrastructure/storage"
	ws "social-chat/infrastructure/websocket"
	"social-chat/observability"
	"social-chat/runtime"
	"social-chat/runtime/workers"
	"social-chat/services"
	"social-chat/sink"
)

const frameTimeout = 3 * time.Second

// BaseChatSuite runs the whole server in-process behind an httptest server.
type BaseChatSuite struct {
	suite.Suite
	Config Config

	Rooms         *services.ChatRoomService
	Messages      *services.MessageService
	Notifications *services.NotificationService
	Registry      *runtime.Registry

	bus      contract.BroadcastBus
	tokens   *auth.TokenService
	server   *httptest.Server
	teardown []func()
}

// SetupSuite loads the environment configuration and starts the stack
func (s *BaseChatSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)

	log := logs.GetLoggerFromLevel(slog.LevelInfo)
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	s.Require().NoError(err)
	s.onTeardown(func() { _ = db.Close() })
	roomRepository, err := storage.NewRoomRepository(db, log)
	s.Require().NoError(err)
	s.onTeardown(func() { _ = roomRepository.Close() })
	notificationRepository, err := storage.NewNotificationRepository(db, log)
	s.Require().NoError(err)
	s.onTeardown(func() { _ = notificationRepository.Close() })
	messageRepository := storage.NewMessageRepository(db, log, nil)

	var chatBroker contract.Broker
	if s.Config.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: s.Config.RedisAddr})
		s.Require().NoError(client.FlushDB(context.Background()).Err())
		s.onTeardown(func() { _ = client.Close() })
		chatBroker = broker.NewRedisBroker(client, log, s.Config.Partitions, 50*time.Millisecond)
		s.bus = bus.NewRedisBus(client, log, 64)
	} else {
		chatBroker = broker.NewMemoryBroker(s.Config.Partitions, 50*time.Millisecond)
		s.bus = bus.NewMemoryBus(64)
	}
	s.onTeardown(func() { _ = chatBroker.Close() })
	s.onTeardown(func() { _ = s.bus.Close() })

	s.Registry = runtime.NewRegistry(8)
	monitoring := observability.NewMonitoringManager(log)
	fallback := sink.NewNotificationSink(notificationRepository, log, nil)
	s.Rooms = services.NewChatRoomService(log, roomRepository, nil)
	s.Messages = services.NewMessageService(log, roomRepository, messageRepository, chatBroker, monitoring, 2000, time.Second, nil)
	s.Notifications = services.NewNotificationService(log, chatBroker, notificationRepository, monitoring)
	dispatcher := services.NewDispatcher(log, roomRepository, s.Registry, fallback, monitoring, time.Second)

	orchestrator := runtime.NewOrchestrator(log,
		workers.NewSupervisor(log, 50*time.Millisecond),
		chatBroker, s.bus, s.Registry,
		services.NewDeliveryService(log, messageRepository, s.bus, monitoring),
		services.NewNotificationRelay(log, s.bus, monitoring),
		dispatcher,
		monitoring,
		runtime.PipelineConfig{
			ConsumerGroup:  "chat-group",
			FetchBatch:     16,
			MaxAttempts:    3,
			RetryBaseDelay: 5 * time.Millisecond,
			RetryMaxDelay:  50 * time.Millisecond,
		},
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = orchestrator.Start(context.Background())
	}()
	s.onTeardown(func() {
		orchestrator.Stop()
		<-done
	})

	s.tokens = auth.NewTokenService("e2e-secret", time.Hour)
	s.server = httptest.NewServer(ws.NewHandler(log, s.tokens, s.Registry, s.Messages, dispatcher, 64, 4096))
	s.onTeardown(s.server.Close)
}

func (s *BaseChatSuite) TearDownSuite() {
	for i := len(s.teardown) - 1; i >= 0; i-- {
		s.teardown[i]()
	}
}

func (s *BaseChatSuite) onTeardown(fn func()) {
	s.teardown = append(s.teardown, fn)
}

// Step prints a colorized header for a scenario step in logs
func (s *BaseChatSuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// Client is one websocket connection of a test user.
type Client struct {
	s         *BaseChatSuite
	Principal chat.Principal
	conn      *websocket.Conn
	frames    chan chat.Envelope
}

// Connect dials the server with a fresh token and starts reading frames.
func (s *BaseChatSuite) Connect(p chat.Principal) *Client {
	token, err := s.tokens.GenerateToken(p)
	s.Require().NoError(err)
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err, "Failed to connect as "+p.Nickname)

	c := &Client{s: s, Principal: p, conn: conn, frames: make(chan chat.Envelope, 64)}
	go c.readLoop()
	s.Require().Eventually(func() bool {
		return len(s.Registry.Sessions(p.UserID)) > 0
	}, frameTimeout, 10*time.Millisecond)
	return c
}

func (c *Client) readLoop() {
	defer close(c.frames)
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if c.s.Config.DebugFrames {
			c.s.T().Logf("%s <- %s", c.Principal.Nickname, frame)
		}
		envelope, err := chat.DecodeEnvelope(frame)
		if err != nil {
			continue
		}
		c.frames <- envelope
	}
}

func (c *Client) Send(roomID chat.RoomID, content string) {
	err := c.conn.WriteJSON(chat.SendMessageCommand{RoomID: roomID, Content: content})
	c.s.Require().NoError(err)
}

// Expect waits for the next envelope of the given type.
func (c *Client) Expect(kind chat.EnvelopeType) chat.Envelope {
	timeout := time.After(frameTimeout)
	for {
		select {
		case e, ok := <-c.frames:
			c.s.Require().True(ok, c.Principal.Nickname+" connection closed")
			if e.Type == kind {
				return e
			}
		case <-timeout:
			c.s.Require().Failf("no frame", "%s expected a %s envelope", c.Principal.Nickname, kind)
			return chat.Envelope{}
		}
	}
}

// ExpectMessage waits for a chat frame and decodes its message.
func (c *Client) ExpectMessage() chat.Message {
	m, err := c.Expect(chat.ChatEnvelope).Message()
	c.s.Require().NoError(err)
	return m
}

// ExpectSilence fails if a chat frame arrives within the window.
func (c *Client) ExpectSilence(window time.Duration) {
	timeout := time.After(window)
	for {
		select {
		case e, ok := <-c.frames:
			if !ok {
				return
			}
			c.s.Require().NotEqual(chat.ChatEnvelope, e.Type, "%s received an unexpected chat frame", c.Principal.Nickname)
		case <-timeout:
			return
		}
	}
}

// Disconnect closes the connection and waits until the server forgot the session.
func (c *Client) Disconnect() {
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
	c.s.Require().Eventually(func() bool {
		return len(c.s.Registry.Sessions(c.Principal.UserID)) == 0
	}, frameTimeout, 10*time.Millisecond)
}

// WaitForDispatcher pings the user channel until the dispatch worker is subscribed.
func (s *BaseChatSuite) WaitForDispatcher(c *Client) {
	ping, err := chat.NewSystemEnvelope(c.Principal.UserID, "ping").Marshal()
	s.Require().NoError(err)
	s.Require().Eventually(func() bool {
		_ = s.bus.Publish(context.Background(), bus.UserChannel(c.Principal.UserID), ping)
		select {
		case e := <-c.frames:
			return e.Type == chat.SystemEnvelope
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, frameTimeout, 10*time.Millisecond)
	// drop pings published while waiting
	for {
		select {
		case <-c.frames:
		case <-time.After(100 * time.Millisecond):
			return
		}
	}
}

// Content reads the "content" field of a notification or system payload.
func Content(data json.RawMessage) string {
	var body struct {
		Content string `json:"content"`
	}
	_ = json.Unmarshal(data, &body)
	return body.Content
}
