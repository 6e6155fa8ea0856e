package clients

import (
	"github.com/adshao/go-binance/v2"
)

func NewBinanceClient(creds Credentials) *binance.Client {
	return binance.NewClient(creds.APIKey, creds.APISecret)
}
