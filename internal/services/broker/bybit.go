package broker

import (
	"context"
	"strings"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/mirror/internal/domain"
)

const bybitCategorySpot = "spot"

// Bybit is a Bybit unified trading account traded on spot.
type Bybit struct {
	client    *bybit.Client
	accountID string
	quote     string
	logger    *zap.Logger
	now       func() time.Time
}

func NewBybit(client *bybit.Client, accountID, quote string, logger *zap.Logger) *Bybit {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bybit{
		client:    client,
		accountID: accountID,
		quote:     strings.ToUpper(quote),
		logger:    logger,
		now:       time.Now,
	}
}

func (b *Bybit) FetchAccountSnapshot(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	if accountID != b.accountID {
		return domain.AccountSnapshot{}, errors.Wrap(ErrUnknownAccount, accountID)
	}

	resp, err := b.client.V5().Account().GetWalletBalance(bybit.AccountTypeV5UNIFIED, nil)
	if err != nil {
		return domain.AccountSnapshot{}, errors.Wrap(err, "failed to get bybit wallet balance")
	}

	var balances []Balance
	for _, wallet := range resp.Result.List {
		for _, coin := range wallet.Coin {
			total, err := parseDecimal("wallet balance", coin.WalletBalance)
			if err != nil {
				return domain.AccountSnapshot{}, err
			}
			locked, err := parseDecimal("locked", coin.Locked)
			if err != nil {
				return domain.AccountSnapshot{}, err
			}
			balances = append(balances, Balance{
				Asset:  string(coin.Coin),
				Free:   total.Sub(locked),
				Locked: locked,
			})
		}
	}

	prices := make(map[string]decimal.Decimal)
	for _, asset := range pricedAssets(b.quote, balances) {
		price, err := b.price(ctx, asset)
		if err != nil {
			b.logger.Warn("no bybit price for asset", zap.String("asset", asset), zap.Error(err))
			continue
		}
		prices[asset] = price
	}
	return buildSnapshot(accountID, b.quote, balances, prices, b.now()), nil
}

func (b *Bybit) price(ctx context.Context, asset string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	symbol := bybit.SymbolV5(asset + b.quote)
	result, err := b.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybitCategorySpot,
		Symbol:   &symbol,
	})
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to get bybit ticker %s", symbol)
	}
	if len(result.Result.Spot.List) == 0 {
		return decimal.Zero, errors.Errorf("bybit returned no ticker for %s", symbol)
	}
	return parseDecimal("last price", result.Result.Spot.List[0].LastPrice)
}

// PlaceOrder submits a spot market order. Bybit acknowledges before the fill,
// so the ack carries no fill details.
func (b *Bybit) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderAck{}, err
	}

	side := bybit.SideBuy
	if req.Side == domain.SideSell {
		side = bybit.SideSell
	}
	param := bybit.V5CreateOrderParam{
		Category:  bybitCategorySpot,
		Symbol:    bybit.SymbolV5(req.Symbol + b.quote),
		Side:      side,
		OrderType: bybit.OrderTypeMarket,
		Qty:       req.Quantity.String(),
	}
	if req.ClientOrderID != "" {
		linkID := req.ClientOrderID
		param.OrderLinkID = &linkID
	}

	resp, err := b.client.V5().Order().CreateOrder(param)
	if err != nil {
		return domain.OrderAck{}, errors.Wrapf(err, "failed to place bybit %s order for %s", side, req.Symbol)
	}
	return domain.OrderAck{BrokerOrderID: resp.Result.OrderID, Status: "submitted"}, nil
}
