package broker

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/mirror/internal/domain"
)

// Binance is a Binance spot account. Holdings are assets priced in quote.
type Binance struct {
	client    *binance.Client
	accountID string
	quote     string
	logger    *zap.Logger
	now       func() time.Time
}

func NewBinance(client *binance.Client, accountID, quote string, logger *zap.Logger) *Binance {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Binance{
		client:    client,
		accountID: accountID,
		quote:     strings.ToUpper(quote),
		logger:    logger,
		now:       time.Now,
	}
}

func (b *Binance) FetchAccountSnapshot(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	if accountID != b.accountID {
		return domain.AccountSnapshot{}, errors.Wrap(ErrUnknownAccount, accountID)
	}

	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return domain.AccountSnapshot{}, errors.Wrap(err, "failed to get binance account")
	}

	balances := make([]Balance, 0, len(account.Balances))
	for _, bal := range account.Balances {
		free, err := parseDecimal("free", bal.Free)
		if err != nil {
			return domain.AccountSnapshot{}, err
		}
		locked, err := parseDecimal("locked", bal.Locked)
		if err != nil {
			return domain.AccountSnapshot{}, err
		}
		balances = append(balances, Balance{Asset: bal.Asset, Free: free, Locked: locked})
	}

	prices, err := b.prices(ctx, pricedAssets(b.quote, balances))
	if err != nil {
		return domain.AccountSnapshot{}, err
	}
	return buildSnapshot(accountID, b.quote, balances, prices, b.now()), nil
}

func (b *Binance) prices(ctx context.Context, assets []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(assets))
	if len(assets) == 0 {
		return out, nil
	}

	symbols := make([]string, 0, len(assets))
	bySymbol := make(map[string]string, len(assets))
	for _, a := range assets {
		s := a + b.quote
		symbols = append(symbols, s)
		bySymbol[s] = a
	}

	list, err := b.client.NewListPricesService().Symbols(symbols).Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list binance prices")
	}
	for _, p := range list {
		asset, ok := bySymbol[p.Symbol]
		if !ok {
			continue
		}
		price, err := parseDecimal("price", p.Price)
		if err != nil {
			return nil, err
		}
		out[asset] = price
	}
	for _, a := range assets {
		if _, ok := out[a]; !ok {
			b.logger.Warn("no binance price for asset", zap.String("asset", a), zap.String("quote", b.quote))
		}
	}
	return out, nil
}

func (b *Binance) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	side := binance.SideTypeBuy
	if req.Side == domain.SideSell {
		side = binance.SideTypeSell
	}

	svc := b.client.NewCreateOrderService().Symbol(req.Symbol + b.quote).
		Side(side).Type(binance.OrderTypeMarket).
		Quantity(req.Quantity.String())
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return domain.OrderAck{}, errors.Wrapf(err, "failed to place binance %s order for %s", side, req.Symbol)
	}

	filled, err := parseDecimal("executed quantity", resp.ExecutedQuantity)
	if err != nil {
		return domain.OrderAck{}, err
	}
	quoteQty, err := parseDecimal("cumulative quote quantity", resp.CummulativeQuoteQuantity)
	if err != nil {
		return domain.OrderAck{}, err
	}

	ack := domain.OrderAck{
		BrokerOrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:        string(resp.Status),
		FilledQty:     filled,
	}
	if filled.IsPositive() {
		ack.AvgPrice = quoteQty.Div(filled)
	}
	return ack, nil
}
