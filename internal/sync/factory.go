package sync

import (
	"fmt"

	"github.com/perpjournal/tradesync/internal/cache"
	"github.com/perpjournal/tradesync/internal/config"
	"github.com/perpjournal/tradesync/internal/exchange"
	"github.com/perpjournal/tradesync/internal/exchange/binance"
	"github.com/perpjournal/tradesync/internal/exchange/blofin"
	"github.com/perpjournal/tradesync/internal/exchange/bybit"
	"github.com/perpjournal/tradesync/internal/exchange/hyperliquid"
	"github.com/perpjournal/tradesync/internal/model"
)

// NewClientFactory builds the production client factory. Base URLs and the
// Hyperliquid leverage default come from configuration; the Blofin
// contract-value map is served through the shared cache.
func NewClientFactory(cfg config.ExchangesConfig, store cache.Cache) ClientFactory {
	return func(ex model.Exchange, creds model.Credentials) (exchange.Client, error) {
		switch ex {
		case model.ExchangeBinance:
			return binance.New(creds, cfg.BinanceBaseURL), nil
		case model.ExchangeBybit:
			return bybit.New(creds, cfg.BybitBaseURL), nil
		case model.ExchangeBlofin:
			client := blofin.New(creds, cfg.BlofinBaseURL, nil)
			if store != nil {
				client.UseContractValues(cache.NewContractValueCache(client, store))
			}
			return client, nil
		case model.ExchangeHyperliquid:
			return hyperliquid.New(creds, cfg.HyperliquidBaseURL, cfg.HyperliquidDefaultLeverage), nil
		}
		return nil, fmt.Errorf("unsupported exchange: %q", ex)
	}
}
