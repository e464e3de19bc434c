// Package mqtt carries user messages and batch decisions over an MQTT broker
// and publishes the engine's replies.
package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"calbot/internal/domain"
	"calbot/internal/logging"
)

const defaultHandleTimeout = 2 * time.Minute

type HubConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	// HandleTimeout bounds the work done for one inbound message.
	HandleTimeout time.Duration
}

type Engine interface {
	HandleMessage(ctx context.Context, msg domain.InboundMessage) (domain.Reply, error)
	HandleDecision(ctx context.Context, userID string, d domain.Decision) (domain.Reply, error)
}

type Hub struct {
	cfg     HubConfig
	client  paho.Client
	engine  Engine
	logger  *slog.Logger
	publish func(topic string, payload []byte) error
	baseCtx context.Context
}

func NewHub(cfg HubConfig, engine Engine, logger *slog.Logger) *Hub {
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = defaultHandleTimeout
	}
	if logger == nil {
		logger = logging.Discard()
	}
	h := &Hub{
		cfg:     cfg,
		engine:  engine,
		logger:  logger,
		baseCtx: context.Background(),
	}
	h.publish = h.publishMQTT
	return h
}

func (h *Hub) Start(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(h.cfg.BrokerURL).
		SetClientID(h.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	if h.cfg.Username != "" {
		opts.SetUsername(h.cfg.Username)
		opts.SetPassword(h.cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		h.logger.Error("mqtt connection lost", logging.Err(err))
	})
	// Subscriptions are restored on every (re)connect.
	opts.SetOnConnectHandler(func(_ paho.Client) {
		if err := h.subscribeHandlers(); err != nil {
			h.logger.Error("mqtt subscribe failed", logging.Err(err))
		}
	})

	h.baseCtx = ctx
	h.client = paho.NewClient(opts)
	if token := h.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	h.logger.Info("mqtt hub started", "broker", h.cfg.BrokerURL, "prefix", h.cfg.TopicPrefix)

	go func() {
		<-ctx.Done()
		h.client.Disconnect(250)
	}()

	return nil
}

func (h *Hub) subscribeHandlers() error {
	if token := h.client.Subscribe(TopicUserMessages(h.cfg.TopicPrefix), 1, h.onMessage); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	if token := h.client.Subscribe(TopicUserDecisions(h.cfg.TopicPrefix), 1, h.onMessage); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// onMessage hands the message off so the paho router is never blocked by a
// slow completion call.
func (h *Hub) onMessage(_ paho.Client, msg paho.Message) {
	topic, payload := msg.Topic(), msg.Payload()
	go h.handle(topic, payload)
}

func (h *Hub) handle(topic string, payload []byte) {
	ctx, cancel := context.WithTimeout(h.baseCtx, h.cfg.HandleTimeout)
	defer cancel()

	userID, reply, ok := h.process(ctx, topic, payload)
	if !ok {
		return
	}
	body, err := json.Marshal(reply)
	if err != nil {
		h.logger.Error("encode reply failed", logging.Err(err))
		return
	}
	if err := h.publish(TopicReply(h.cfg.TopicPrefix, userID), body); err != nil {
		h.logger.Warn("publish reply failed", logging.UserHash(userID), logging.Err(err))
	}
}

// process turns one inbound payload into the reply to publish. ok is false
// when the payload is dropped.
func (h *Hub) process(ctx context.Context, topic string, payload []byte) (string, domain.Reply, bool) {
	userID, err := ParseUserID(topic, h.cfg.TopicPrefix)
	if err != nil {
		h.logger.Warn("skip invalid topic", "topic", topic, logging.Err(err))
		return "", domain.Reply{}, false
	}

	var (
		reply     domain.Reply
		handleErr error
	)
	switch TopicKind(topic) {
	case "message":
		msg, ok := decodeMessage(payload)
		if !ok {
			h.logger.Warn("invalid message payload", logging.UserHash(userID))
			return "", domain.Reply{}, false
		}
		if msg.UserID != "" && msg.UserID != userID {
			h.logger.Warn("message user mismatch", "topic_user", logging.AnonymizeUser(userID), "payload_user", logging.AnonymizeUser(msg.UserID))
			return "", domain.Reply{}, false
		}
		msg.UserID = userID
		reply, handleErr = h.engine.HandleMessage(ctx, msg)
	case "decision":
		var d domain.Decision
		if err := json.Unmarshal(payload, &d); err != nil || d.Action == "" {
			h.logger.Warn("invalid decision payload", logging.UserHash(userID), logging.Err(err))
			return "", domain.Reply{}, false
		}
		reply, handleErr = h.engine.HandleDecision(ctx, userID, d)
	default:
		return "", domain.Reply{}, false
	}

	if handleErr != nil {
		h.logger.Warn("mqtt request failed", logging.UserHash(userID), "topic", topic, logging.Err(handleErr))
		reply = domain.Reply{UserID: userID, Kind: domain.ReplyError, Text: handleErr.Error(), ErrorKind: domain.KindOf(handleErr)}
	}
	return userID, reply, true
}

// decodeMessage accepts a JSON InboundMessage or plain text.
func decodeMessage(payload []byte) (domain.InboundMessage, bool) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return domain.InboundMessage{}, false
	}
	if strings.HasPrefix(trimmed, "{") {
		var msg domain.InboundMessage
		if err := json.Unmarshal([]byte(trimmed), &msg); err != nil || strings.TrimSpace(msg.Text) == "" {
			return domain.InboundMessage{}, false
		}
		return msg, true
	}
	return domain.InboundMessage{Text: trimmed}, true
}

func (h *Hub) publishMQTT(topic string, payload []byte) error {
	token := h.client.Publish(topic, 1, false, payload)
	token.Wait()
	return token.Error()
}
