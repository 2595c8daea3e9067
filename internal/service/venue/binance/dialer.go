package binance

import (
	"context"
	"errors"
	"fmt"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/langdon0003/trading-monitor/internal/service/venue"
)

var _ venue.Dialer = (*Dialer)(nil)

// Dialer opens venue sessions against Binance futures. One dialer
// serves all accounts; each Dial starts an independent user-data
// stream so accounts stay isolated.
type Dialer struct {
	apiKey    string
	apiSecret string
}

func NewDialer(apiKey, apiSecret string) *Dialer {
	return &Dialer{
		apiKey:    apiKey,
		apiSecret: apiSecret,
	}
}

func (d *Dialer) Dial(ctx context.Context, accountID int64) (venue.Session, error) {
	cli := futures.NewClient(d.apiKey, d.apiSecret)

	listenKey, err := cli.NewStartUserStreamService().Do(ctx)
	if err != nil {
		if isCredentialError(err) {
			return nil, fmt.Errorf("%w: %v", venue.ErrAuth, err)
		}
		return nil, fmt.Errorf("venue: start user stream: %w", err)
	}

	s := &Session{
		cli:       cli,
		accountID: accountID,
		listenKey: listenKey,
		msgs:      make(chan venue.Message, messageBuffer),
		quit:      make(chan struct{}),
	}

	doneC, stopC, err := futures.WsUserDataServe(listenKey, s.handleWsEvent, s.handleWsError)
	if err != nil {
		_ = cli.NewCloseUserStreamService().ListenKey(listenKey).Do(ctx)
		return nil, fmt.Errorf("venue: subscribe user stream: %w", err)
	}
	s.mu.Lock()
	s.wsStop = stopC
	s.mu.Unlock()
	select {
	case <-s.quit:
		// a callback failed the session before the stop channel was
		// recorded; stop the stream it could not reach
		s.stopWs()
	default:
	}
	go s.background(doneC)

	return s, nil
}

// credential rejections are fatal per account; everything else is a
// transient connection problem
func isCredentialError(err error) bool {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case -2014, -2015, -1022: // bad API key format / invalid key or permissions / bad signature
		return true
	}
	return false
}
