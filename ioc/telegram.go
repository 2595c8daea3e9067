package ioc

import (
	"github.com/langdon0003/trading-monitor/internal/config"
	"github.com/langdon0003/trading-monitor/internal/service/notification"
)

func InitTelegram(cfg config.Config) notification.Notifier {
	return notification.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramChatID)
}
