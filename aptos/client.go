package aptos

import (
	"context"
	"net/url"
	"strconv"

	"github.com/coinbase/chainexport"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// DefaultAPIURL is the Aptos mainnet fullnode REST endpoint.
const DefaultAPIURL = "https://fullnode.mainnet.aptoslabs.com"

// maxTransactionsPage is the page size limit of /v1/transactions.
const maxTransactionsPage = 100

// Client reads blocks and transactions from the Aptos fullnode REST API.
type Client struct {
	fetcher *chainexport.JSONFetcher
}

// NewClient returns a Client for the API at cfg.BaseURL.
func NewClient(cfg chainexport.FetcherConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAPIURL
	}
	return &Client{fetcher: chainexport.NewJSONFetcher(cfg)}
}

// BlockByHeight returns the block at height with its transactions.
func (c *Client) BlockByHeight(ctx context.Context, height uint64) (gjson.Result, error) {
	path := "/v1/blocks/by_height/" + strconv.FormatUint(height, 10)
	return c.fetcher.Get(ctx, path, url.Values{"with_transactions": {"true"}})
}

// Transactions returns up to limit transactions starting at version start.
func (c *Client) Transactions(ctx context.Context, start uint64, limit int) ([]gjson.Result, error) {
	query := url.Values{
		"start": {strconv.FormatUint(start, 10)},
		"limit": {strconv.Itoa(limit)},
	}
	resp, err := c.fetcher.Get(ctx, "/v1/transactions", query)
	if err != nil {
		return nil, err
	}
	if !resp.IsArray() {
		return nil, chainexport.NewMalformedInputError("", "transactions response is not an array", nil)
	}
	return resp.Array(), nil
}

// LedgerInfo returns the node's ledger summary, which includes the latest
// block_height.
func (c *Client) LedgerInfo(ctx context.Context) (gjson.Result, error) {
	return c.fetcher.Get(ctx, "/v1", nil)
}

// blockTransactions returns every transaction of block. The API truncates
// the transaction list of large blocks, in which case the remainder is read
// from /v1/transactions by version.
func (c *Client) blockTransactions(ctx context.Context, block gjson.Result,
	first, last uint64) ([]gjson.Result, error) {

	if last < first {
		return nil, chainexport.NewMalformedInputError("last_version",
			"is below first_version", nil)
	}
	txs := block.Get("transactions").Array()
	want := last - first + 1
	for next := first + uint64(len(txs)); uint64(len(txs)) < want; next = first + uint64(len(txs)) {
		limit := want - uint64(len(txs))
		if limit > maxTransactionsPage {
			limit = maxTransactionsPage
		}
		page, err := c.Transactions(ctx, next, int(limit))
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return nil, errors.Errorf("no transactions returned from version %d", next)
		}
		log.Debugf("Fetched %d transactions from version %d", len(page), next)
		txs = append(txs, page...)
	}
	if uint64(len(txs)) > want {
		txs = txs[:want]
	}
	return txs, nil
}
