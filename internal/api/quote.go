package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/rickgao/marketstream/internal/model"
)

// ErrNoQuote is returned when the provider has no quote for a symbol.
var ErrNoQuote = errors.New("no quote for symbol")

// GetQuote fetches the latest price snapshot for symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (model.Quote, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	var resp QuoteResponse
	if err := c.get(ctx, "/quote", query, &resp); err != nil {
		return model.Quote{}, fmt.Errorf("get quote %s: %w", symbol, err)
	}

	// Unknown symbols come back as all zeros.
	if resp.Timestamp == 0 {
		return model.Quote{}, fmt.Errorf("%s: %w", symbol, ErrNoQuote)
	}

	return model.Quote{
		Symbol:          symbol,
		Price:           resp.Current,
		TimestampMillis: resp.Timestamp * 1000,
	}, nil
}
