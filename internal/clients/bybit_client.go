package clients

import (
	"github.com/hirokisan/bybit/v2"
)

func NewBybitClient(creds Credentials) *bybit.Client {
	return bybit.NewClient().WithAuth(creds.APIKey, creds.APISecret)
}
