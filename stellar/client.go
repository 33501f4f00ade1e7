package stellar

import (
	"context"
	"net/url"
	"strconv"

	"github.com/coinbase/chainexport"
	"github.com/tidwall/gjson"
)

// DefaultAPIURL is the public Horizon testnet instance.
const DefaultAPIURL = "https://horizon-testnet.stellar.org"

// transactionsPageSize is the largest page Horizon serves.
const transactionsPageSize = 200

// Client reads ledgers and transactions from a Horizon server.
type Client struct {
	fetcher *chainexport.JSONFetcher
}

// NewClient returns a Client for the Horizon server at cfg.BaseURL.
func NewClient(cfg chainexport.FetcherConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAPIURL
	}
	return &Client{fetcher: chainexport.NewJSONFetcher(cfg)}
}

// Ledger returns the ledger resource for sequence seq.
func (c *Client) Ledger(ctx context.Context, seq uint64) (gjson.Result, error) {
	return c.fetcher.Get(ctx, "/ledgers/"+strconv.FormatUint(seq, 10), nil)
}

// LedgerTransactions returns every transaction of ledger seq in application
// order, failed transactions included. Pages are followed by cursor until a
// short page is returned.
func (c *Client) LedgerTransactions(ctx context.Context, seq uint64) ([]gjson.Result, error) {
	path := "/ledgers/" + strconv.FormatUint(seq, 10) + "/transactions"

	var (
		txs    []gjson.Result
		cursor string
	)
	for {
		query := url.Values{
			"limit":          {strconv.Itoa(transactionsPageSize)},
			"order":          {"asc"},
			"include_failed": {"true"},
		}
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		resp, err := c.fetcher.Get(ctx, path, query)
		if err != nil {
			return nil, err
		}
		records := resp.Get("_embedded.records")
		if !records.IsArray() {
			return nil, chainexport.NewMalformedInputError("_embedded.records",
				"is not an array", nil)
		}

		page := records.Array()
		txs = append(txs, page...)
		if len(page) < transactionsPageSize {
			return txs, nil
		}
		cursor = page[len(page)-1].Get("paging_token").String()
		if cursor == "" {
			return nil, chainexport.NewMalformedInputError("paging_token",
				"is required to page transactions", nil)
		}
		log.Debugf("Paging ledger %d transactions from cursor %s", seq, cursor)
	}
}

// LatestLedger returns the sequence of the latest ledger ingested by the
// server.
func (c *Client) LatestLedger(ctx context.Context) (uint64, error) {
	root, err := c.fetcher.Get(ctx, "/", nil)
	if err != nil {
		return 0, err
	}
	p, err := chainexport.Project(root, nil)
	if err != nil {
		return 0, err
	}
	return p.RequireUint("history_latest_ledger")
}
