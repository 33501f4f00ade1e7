package aptos

import (
	"context"
	"fmt"

	"github.com/coinbase/chainexport"
	"github.com/pkg/errors"
)

// ChainName identifies Aptos in logs, metrics and sink keys.
const ChainName = "aptos"

// Source exports the block at each height followed by its transactions in
// version order.
type Source struct {
	client             *Client
	transform          chainexport.TransformFunc
	exportBlocks       bool
	exportTransactions bool
}

// NewSource returns a Source reading from client. Transactions are only
// fetched beyond the block payload when exportTransactions is set.
func NewSource(client *Client, exportBlocks, exportTransactions bool) *Source {
	return &Source{
		client:             client,
		transform:          Transform,
		exportBlocks:       exportBlocks,
		exportTransactions: exportTransactions,
	}
}

func (s *Source) Chain() string { return ChainName }

// CurrentHeight returns the latest block height of the node.
func (s *Source) CurrentHeight(ctx context.Context) (uint64, error) {
	info, err := s.client.LedgerInfo(ctx)
	if err != nil {
		return 0, err
	}
	p, err := chainexport.Project(info, nil)
	if err != nil {
		return 0, err
	}
	return p.RequireUint("block_height")
}

// FetchPosition returns the block at height and its transactions.
func (s *Source) FetchPosition(ctx context.Context, height uint64) ([]chainexport.Record, error) {
	raw, err := s.client.BlockByHeight(ctx, height)
	if err != nil {
		return nil, err
	}
	record, err := s.transform(chainexport.KindBlock, raw, chainexport.TransformContext{})
	if err != nil {
		return nil, err
	}
	block, ok := record.(*Block)
	if !ok {
		return nil, errors.Errorf("aptos block transformed into %T", record)
	}
	if block.Number != height {
		return nil, chainexport.NewMalformedInputError("block_height",
			fmt.Sprintf("is %d, requested %d", block.Number, height), nil)
	}

	var records []chainexport.Record
	if s.exportBlocks {
		records = append(records, block)
	}
	if !s.exportTransactions {
		return records, nil
	}

	txs, err := s.client.blockTransactions(ctx, raw, block.FirstVersion, block.LastVersion)
	if err != nil {
		return nil, err
	}
	tc := chainexport.WithBlockNumber(block.Number)
	for _, txRaw := range txs {
		record, err := s.transform(chainexport.KindTransaction, txRaw, tc)
		if err != nil {
			return nil, err
		}
		if tx, ok := record.(*Transaction); ok {
			block.Transactions = append(block.Transactions, tx)
		}
		records = append(records, record)
	}
	return records, nil
}
