package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/rootp1/Tapp/internal/models"
	"github.com/rootp1/Tapp/utils"
)

const unlockedHeader = "🎉 *Content Unlocked!*\n\n"

// Sender 由 *tgbotapi.BotAPI 实现
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramNotifier struct {
	bot        Sender
	maxRetries int
	retryDelay time.Duration
	log        *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewTelegramNotifier(bot Sender, maxRetries int, retryDelay time.Duration, log *zap.Logger) *TelegramNotifier {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay < 0 {
		retryDelay = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TelegramNotifier{
		bot:        bot,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		log:        log,
		sleep:      sleepCtx,
	}
}

func (t *TelegramNotifier) DeliverContent(ctx context.Context, buyerID string, post *models.Post) error {
	chatID, err := parseChatID(buyerID)
	if err != nil {
		return err
	}
	msg := contentMessage(chatID, post)
	if err := t.send(ctx, msg); err != nil {
		t.log.Error("deliver content failed, manual intervention may be required",
			zap.String("buyer_id", buyerID), zap.String("post_id", post.PostID), zap.Error(err))
		return err
	}
	t.log.Info("content delivered", zap.String("buyer_id", buyerID), zap.String("post_id", post.PostID))
	return nil
}

func (t *TelegramNotifier) NotifyCreatorPayment(ctx context.Context, p CreatorPayment) error {
	chatID, err := parseChatID(p.CreatorID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, creatorPaymentText(p))
	msg.ParseMode = tgbotapi.ModeMarkdown
	return t.send(ctx, msg)
}

func contentMessage(chatID int64, post *models.Post) tgbotapi.Chattable {
	caption := unlockedHeader + post.ContentData
	if post.FileID != "" {
		file := tgbotapi.FileID(post.FileID)
		switch post.ContentType {
		case models.ContentPhoto:
			m := tgbotapi.NewPhoto(chatID, file)
			m.Caption, m.ParseMode = caption, tgbotapi.ModeMarkdown
			return m
		case models.ContentVideo:
			m := tgbotapi.NewVideo(chatID, file)
			m.Caption, m.ParseMode = caption, tgbotapi.ModeMarkdown
			return m
		case models.ContentDocument:
			m := tgbotapi.NewDocument(chatID, file)
			m.Caption, m.ParseMode = caption, tgbotapi.ModeMarkdown
			return m
		case models.ContentAudio:
			m := tgbotapi.NewAudio(chatID, file)
			m.Caption, m.ParseMode = caption, tgbotapi.ModeMarkdown
			return m
		}
	}
	m := tgbotapi.NewMessage(chatID, caption)
	m.ParseMode = tgbotapi.ModeMarkdown
	return m
}

func creatorPaymentText(p CreatorPayment) string {
	title := p.PostTitle
	if r := []rune(title); len(r) > 50 {
		title = string(r[:50]) + "..."
	}
	if title == "" {
		title = "your post"
	}
	return fmt.Sprintf("💰 *Payment Received!*\n\n"+
		"You earned *%s* from a payment of %s\n\n"+
		"📝 Post: %s\n"+
		"👤 Buyer: User %s\n\n"+
		"💳 Funds have been sent to your wallet!",
		utils.FormatTON(p.CreatorEarnings), utils.FormatTON(p.Amount), title, p.BuyerID)
}

// send 对临时错误做有限次重试，永久错误立即返回
func (t *TelegramNotifier) send(ctx context.Context, c tgbotapi.Chattable) error {
	var err error
	for attempt := 1; attempt <= t.maxRetries; attempt++ {
		if _, err = t.bot.Send(c); err == nil {
			return nil
		}
		wait, retry := retryAfter(err, t.retryDelay)
		if !retry || attempt == t.maxRetries {
			break
		}
		t.log.Warn("telegram send failed, retrying",
			zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		if serr := t.sleep(ctx, wait); serr != nil {
			return serr
		}
	}
	return err
}

// retryAfter 判断错误是否可重试以及等待时长
func retryAfter(err error, def time.Duration) (time.Duration, bool) {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		// 网络错误
		return def, true
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		if apiErr.RetryAfter > 0 {
			return time.Duration(apiErr.RetryAfter) * time.Second, true
		}
		return def, true
	case apiErr.Code >= http.StatusInternalServerError:
		return def, true
	default:
		return 0, false
	}
}

func parseChatID(id string) (int64, error) {
	chatID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", id, err)
	}
	return chatID, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
