package internal

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/vadiminshakov/mirror/config"
	"github.com/vadiminshakov/mirror/internal/clients"
	"github.com/vadiminshakov/mirror/internal/services/broker"
)

// exchangeFactory builds platform adapters. It is the single point of
// dispatch to platform specific implementations.
type exchangeFactory struct {
	platform string
	quote    string
	logger   *zap.Logger
}

func newExchangeFactory(platform, quote string, logger *zap.Logger) (*exchangeFactory, error) {
	switch platform {
	case config.PlatformBinance, config.PlatformBybit:
		return &exchangeFactory{platform: platform, quote: quote, logger: logger}, nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", platform)
	}
}

// Exchange builds the adapter for accountID using the credentials behind ref.
func (f *exchangeFactory) Exchange(accountID, credentialsRef string) (broker.Exchange, error) {
	if credentialsRef == "" {
		credentialsRef = accountID
	}
	creds, err := clients.LoadCredentials(credentialsRef)
	if err != nil {
		return nil, err
	}

	logger := f.logger.With(zap.String("account", accountID), zap.String("platform", f.platform))
	switch f.platform {
	case config.PlatformBybit:
		return broker.NewBybit(clients.NewBybitClient(creds), accountID, f.quote, logger), nil
	default:
		return broker.NewBinance(clients.NewBinanceClient(creds), accountID, f.quote, logger), nil
	}
}
