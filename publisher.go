package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/streadway/amqp"
)

const (
	KindSpendingRecorded  = "spending_recorded"
	KindAgeBracketSummary = "age_bracket_summary"
)

type Notification struct {
	Kind          string          `json:"kind"`
	UserID        int             `json:"user_id,omitempty"`
	UserName      string          `json:"user_name,omitempty"`
	AgeBracket    string          `json:"age_bracket,omitempty"`
	Year          int             `json:"year,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	TotalSpent    decimal.Decimal `json:"total_spent"`
	VoucherIssued bool            `json:"voucher_issued,omitempty"`
	Brackets      []BracketStats  `json:"brackets,omitempty"`
}

// Text renders the notification for chat delivery.
func (n Notification) Text() string {
	var b strings.Builder
	switch n.Kind {
	case KindSpendingRecorded:
		fmt.Fprintf(&b, "%s (#%d) spent %s in %d.", n.UserName, n.UserID, n.Amount.StringFixed(2), n.Year)
		if n.AgeBracket != "" {
			fmt.Fprintf(&b, "\nAge bracket: %s", n.AgeBracket)
		}
		fmt.Fprintf(&b, "\nTotal spent: %s", n.TotalSpent.StringFixed(2))
		if n.VoucherIssued {
			b.WriteString("\nVoucher issued.")
		}
	case KindAgeBracketSummary:
		b.WriteString("Spending by age bracket:")
		for _, s := range n.Brackets {
			fmt.Fprintf(&b, "\n%s: %d users, total %s, average %s",
				s.Bracket, s.Users, s.TotalSpent.StringFixed(2), s.AverageSpent.StringFixed(2))
		}
	default:
		fmt.Fprintf(&b, "%s: total %s", n.Kind, n.TotalSpent.StringFixed(2))
	}
	return b.String()
}

type NotificationPublisher interface {
	Publish(ctx context.Context, notification Notification) error
}

// TelegramPublisher sends notifications as chat messages through a bot.
type TelegramPublisher struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegramPublisher authenticates the bot token against apiEndpoint
// (tgbotapi.APIEndpoint when empty).
func NewTelegramPublisher(token string, chatID int64, apiEndpoint string, logger *slog.Logger) (*TelegramPublisher, error) {
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, apiEndpoint)
	if err != nil {
		return nil, fmt.Errorf("unable to authorize telegram bot: %w", err)
	}

	return &TelegramPublisher{bot: bot, chatID: chatID, logger: logger}, nil
}

func (p *TelegramPublisher) Publish(ctx context.Context, notification Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(p.chatID, notification.Text())
	if _, err := p.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}

	p.logger.Debug("notification sent to chat", "kind", notification.Kind, "chat_id", p.chatID)
	return nil
}

// RabbitMQPublisher is an implementation of NotificationPublisher using RabbitMQ
type RabbitMQPublisher struct {
	conn    *amqp.Connection // Connection to RabbitMQ
	channel *amqp.Channel    // Channel to communicate with RabbitMQ
	queue   amqp.Queue       // Queue to which notifications will be published
	logger  *slog.Logger
}

func NewRabbitMQPublisher(rabbitMQURL, queueName string, logger *slog.Logger) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(rabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to open rabbitmq channel: %w", err)
	}

	queue, err := ch.QueueDeclare(
		queueName,
		true,  // Durable (survives RabbitMQ restarts)
		false, // Auto-delete when unused
		false, // Not exclusive to a single connection
		false, // No-wait for confirmation
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("unable to declare queue %q: %w", queueName, err)
	}

	return &RabbitMQPublisher{
		conn:    conn,
		channel: ch,
		queue:   queue,
		logger:  logger,
	}, nil
}

// Publish sends a notification to the RabbitMQ queue
func (p *RabbitMQPublisher) Publish(ctx context.Context, notification Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(notification)
	if err != nil {
		return err
	}

	err = p.channel.Publish(
		"",           // Default exchange (direct routing to a queue)
		p.queue.Name, // Queue name as the routing key
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to queue %q: %w", p.queue.Name, err)
	}

	p.logger.Debug("notification published", "kind", notification.Kind, "queue", p.queue.Name)
	return nil
}

// Close releases RabbitMQ resources
func (p *RabbitMQPublisher) Close() {
	p.channel.Close()
	p.conn.Close()
}

// multiPublisher delivers every notification to each of its publishers.
type multiPublisher []NotificationPublisher

func (m multiPublisher) Publish(ctx context.Context, notification Notification) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, notification); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
