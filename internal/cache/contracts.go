package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/perpjournal/tradesync/internal/exchange/blofin"
)

// contractValueTTL keeps the instrument map for an hour. Contract values
// almost never change; an hour bounds the staleness after a listing update.
const contractValueTTL = time.Hour

const contractValueKey = "blofin:contract_values"

// ContractValueCache wraps a contract-value source with the shared cache so
// repeated syncs skip the instruments endpoint.
type ContractValueCache struct {
	source blofin.ContractValueSource
	cache  Cache
}

// NewContractValueCache builds the caching layer over source.
func NewContractValueCache(source blofin.ContractValueSource, cache Cache) *ContractValueCache {
	return &ContractValueCache{source: source, cache: cache}
}

// ContractValues returns the cached map when fresh, refreshing it from the
// source otherwise. Cache write failures degrade to a log line; the map we
// already fetched is still returned.
func (c *ContractValueCache) ContractValues(ctx context.Context) (blofin.ContractValues, error) {
	var cached blofin.ContractValues
	err := c.cache.Get(ctx, contractValueKey, &cached)
	if err == nil && len(cached) > 0 {
		return cached, nil
	}
	if err != nil && !errors.Is(err, ErrMiss) {
		log.Warn().Err(err).Msg("contract value cache read failed")
	}

	values, err := c.source.ContractValues(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, contractValueKey, values, contractValueTTL); err != nil {
		log.Warn().Err(err).Msg("contract value cache write failed")
	}
	return values, nil
}
