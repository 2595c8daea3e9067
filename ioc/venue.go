package ioc

import (
	"github.com/adshao/go-binance/v2/futures"
	"github.com/langdon0003/trading-monitor/internal/config"
	"github.com/langdon0003/trading-monitor/internal/service/venue"
	"github.com/langdon0003/trading-monitor/internal/service/venue/binance"
)

func InitVenueDialer(cfg config.Config) venue.Dialer {
	// demo accounts run against the venue's test endpoint
	futures.UseTestnet = cfg.AccountType == "demo"
	return binance.NewDialer(cfg.AppClientID, cfg.AppClientSecret)
}
