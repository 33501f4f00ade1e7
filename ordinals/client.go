package ordinals

import (
	"context"
	"net/url"
	"strconv"

	"github.com/coinbase/chainexport"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	// DefaultOrdURL is the address of a locally run ord server.
	DefaultOrdURL = "http://127.0.0.1:80"

	// DefaultHiroURL is the public Hiro API.
	DefaultHiroURL = "https://api.hiro.so"

	// hiroPageSize is the largest page the Hiro inscriptions endpoint serves.
	hiroPageSize = 60
)

// OrdClient reads inscriptions from an ord server's JSON API.
type OrdClient struct {
	fetcher *chainexport.JSONFetcher
}

// NewOrdClient returns an OrdClient for the server at cfg.BaseURL.
func NewOrdClient(cfg chainexport.FetcherConfig) *OrdClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOrdURL
	}
	return &OrdClient{fetcher: chainexport.NewJSONFetcher(cfg)}
}

// BlockHeight returns the height of the latest block indexed by the server.
func (c *OrdClient) BlockHeight(ctx context.Context) (uint64, error) {
	resp, err := c.fetcher.Get(ctx, "/blockheight", nil)
	if err != nil {
		return 0, err
	}
	height, err := chainexport.RequireUint(resp)
	if err != nil {
		return 0, annotate(err, "blockheight")
	}
	return height, nil
}

// InscriptionIDsByBlock returns the ids of every inscription made in the
// block at height, following pagination.
func (c *OrdClient) InscriptionIDsByBlock(ctx context.Context, height uint64) ([]string, error) {
	var ids []string
	for page := 0; ; page++ {
		path := "/inscriptions/block/" + strconv.FormatUint(height, 10) + "/" +
			strconv.Itoa(page)
		resp, err := c.fetcher.Get(ctx, path, nil)
		if err != nil {
			return nil, err
		}

		// Older servers name the list "inscriptions".
		list := resp.Get("ids")
		if !list.Exists() {
			list = resp.Get("inscriptions")
		}
		if list.Type != gjson.Null && !list.IsArray() {
			return nil, chainexport.NewMalformedInputError("ids", "is not an array", nil)
		}
		for _, id := range list.Array() {
			ids = append(ids, id.String())
		}

		if !resp.Get("more").Bool() {
			return ids, nil
		}
		log.Debugf("Block %d has more inscriptions, reading page %d", height, page+1)
	}
}

// InscriptionByID returns the inscription with the given id.
func (c *OrdClient) InscriptionByID(ctx context.Context, id string) (gjson.Result, error) {
	return c.fetcher.Get(ctx, "/inscription/"+url.PathEscape(id), nil)
}

// HiroClient reads inscriptions from the Hiro Ordinals API, which can filter
// by a range of genesis heights.
type HiroClient struct {
	fetcher *chainexport.JSONFetcher
}

// NewHiroClient returns a HiroClient for the API at cfg.BaseURL. An API key,
// if any, goes in cfg.Header as x-api-key.
func NewHiroClient(cfg chainexport.FetcherConfig) *HiroClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultHiroURL
	}
	return &HiroClient{fetcher: chainexport.NewJSONFetcher(cfg)}
}

// BlockHeight returns the latest block height indexed by the API.
func (c *HiroClient) BlockHeight(ctx context.Context) (uint64, error) {
	resp, err := c.fetcher.Get(ctx, "/ordinals/v1/", nil)
	if err != nil {
		return 0, err
	}
	p, err := chainexport.Project(resp, nil)
	if err != nil {
		return 0, err
	}
	return p.RequireUint("block_height")
}

// InscriptionsByBlocks returns every inscription whose genesis height lies in
// [from, to], reading all pages.
func (c *HiroClient) InscriptionsByBlocks(ctx context.Context, from, to uint64) ([]gjson.Result, error) {
	var inscriptions []gjson.Result
	for offset := 0; ; {
		query := url.Values{
			"from_genesis_block_height": {strconv.FormatUint(from, 10)},
			"to_genesis_block_height":   {strconv.FormatUint(to, 10)},
			"order_by":                  {"number"},
			"order":                     {"asc"},
			"limit":                     {strconv.Itoa(hiroPageSize)},
			"offset":                    {strconv.Itoa(offset)},
		}
		resp, err := c.fetcher.Get(ctx, "/ordinals/v1/inscriptions", query)
		if err != nil {
			return nil, err
		}
		results := resp.Get("results")
		if !results.IsArray() {
			return nil, chainexport.NewMalformedInputError("results", "is not an array", nil)
		}

		page := results.Array()
		inscriptions = append(inscriptions, page...)
		offset += len(page)
		if len(page) == 0 || offset >= int(resp.Get("total").Int()) {
			return inscriptions, nil
		}
		log.Debugf("Read %d of %d inscriptions for blocks %d-%d", offset,
			resp.Get("total").Int(), from, to)
	}
}

// annotate names field in a MalformedInputError that does not carry one yet,
// however deeply err wraps it.
func annotate(err error, field string) error {
	var malformed *chainexport.MalformedInputError
	if errors.As(err, &malformed) && malformed.Field == "" {
		malformed.Field = field
	}
	return err
}
