package wa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"bot-kursus/internal/convo"
	"bot-kursus/internal/metrics"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

// Config holds configuration to initialise the WhatsApp client.
type Config struct {
	StorePath string
	LogLevel  string
	Metrics   *metrics.Metrics
}

// Processor handles inbound messages: free text and menu row selections.
type Processor interface {
	HandleText(ctx context.Context, from, text string)
	HandleCallback(ctx context.Context, from, data string)
}

// Client wraps the WhatsMeow client and associated dependencies. It
// implements convo.Sender for outgoing messages.
type Client struct {
	client    *whatsmeow.Client
	logger    *slog.Logger
	metrics   *metrics.Metrics
	processor Processor
}

// New creates a new WhatsApp client instance backed by an SQLite store.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.StorePath == "" {
		return nil, errors.New("store path is required")
	}

	if err := ensureDir(filepath.Dir(cfg.StorePath)); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}

	storeLogger := waLog.Stdout("whatsmeow/sqlstore", cfg.LogLevel, true)
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout=10000&_pragma=foreign_keys(ON)", cfg.StorePath), storeLogger)
	if err != nil {
		return nil, fmt.Errorf("create sqlstore: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	waLogger := waLog.Stdout("whatsmeow/client", cfg.LogLevel, true)
	client := whatsmeow.NewClient(deviceStore, waLogger)

	wc := &Client{
		client:  client,
		logger:  logger.With("component", "wa"),
		metrics: cfg.Metrics,
	}
	client.AddEventHandler(wc.handleEvent)

	return wc, nil
}

// SetProcessor registers the inbound message processor.
func (c *Client) SetProcessor(processor Processor) {
	c.processor = processor
}

// Start connects the client and handles login/QR pairing flow.
func (c *Client) Start(ctx context.Context) error {
	if c.client.Store.ID == nil {
		c.logger.Info("pairing required, waiting for QR scan")
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("get qr channel: %w", err)
		}

		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					c.logger.Info("scan the QR code with WhatsApp", "qr", evt.Code)
				} else {
					c.logger.Info("pairing event received", "event", evt.Event)
				}
			}
		}()
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect wa client: %w", err)
	}

	c.logger.Info("whatsapp client connected")
	return nil
}

// Close disconnects the WhatsApp client.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Disconnect()
	}
}

func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		c.handleMessage(v)
	case *events.Connected:
		c.logger.Info("device connected")
	case *events.Disconnected:
		c.logger.Warn("device disconnected")
	}
}

func (c *Client) handleMessage(evt *events.Message) {
	msg := evt.Message
	if msg == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	if c.processor == nil {
		return
	}

	sender := evt.Info.Sender.ToNonAD().String()

	// Menu picks arrive as list or button replies carrying the row id that
	// was sent out with the menu.
	if list := msg.GetListResponseMessage(); list != nil {
		rowID := list.GetSingleSelectReply().GetSelectedRowID()
		if rowID != "" {
			c.countIncoming("list_reply")
			go c.processor.HandleCallback(context.Background(), sender, rowID)
			return
		}
	}
	if btn := msg.GetButtonsResponseMessage(); btn != nil {
		buttonID := btn.GetSelectedButtonID()
		if buttonID != "" {
			c.countIncoming("button_reply")
			go c.processor.HandleCallback(context.Background(), sender, buttonID)
			return
		}
	}

	var text string
	switch {
	case msg.GetConversation() != "":
		text = msg.GetConversation()
	case msg.ExtendedTextMessage != nil:
		text = msg.GetExtendedTextMessage().GetText()
	default:
		c.logger.Info("ignoring unsupported message type", "from", sender)
		return
	}

	c.countIncoming("text")
	go c.processor.HandleText(context.Background(), sender, text)
}

func (c *Client) countIncoming(kind string) {
	if c.metrics != nil {
		c.metrics.IncomingMessages.WithLabelValues(kind).Inc()
	}
}

// SendText sends a text message to the given chat identity.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("parse recipient %q: %w", to, err)
	}
	message := &waProto.Message{
		Conversation: proto.String(text),
	}
	if _, err := c.client.SendMessage(ctx, jid, message); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	if c.metrics != nil {
		c.metrics.OutgoingMessages.WithLabelValues("text").Inc()
	}
	return nil
}

// SendMenu sends a single-select list message. Each option's ID comes back
// verbatim as the row id of the user's pick.
func (c *Client) SendMenu(ctx context.Context, to, title string, options []convo.MenuOption) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("parse recipient %q: %w", to, err)
	}

	rows := make([]*waProto.ListMessage_Row, 0, len(options))
	for _, opt := range options {
		row := &waProto.ListMessage_Row{
			RowID: proto.String(opt.ID),
			Title: proto.String(opt.Title),
		}
		if opt.Description != "" {
			row.Description = proto.String(opt.Description)
		}
		rows = append(rows, row)
	}

	message := &waProto.Message{
		ListMessage: &waProto.ListMessage{
			Title:      proto.String(title),
			ButtonText: proto.String("Pilih"),
			ListType:   waProto.ListMessage_SINGLE_SELECT.Enum(),
			Sections: []*waProto.ListMessage_Section{
				{Rows: rows},
			},
		},
	}
	if _, err := c.client.SendMessage(ctx, jid, message); err != nil {
		return fmt.Errorf("send menu: %w", err)
	}
	if c.metrics != nil {
		c.metrics.OutgoingMessages.WithLabelValues("menu").Inc()
	}
	return nil
}

func ensureDir(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}
