package stellar

import (
	"context"
	"fmt"

	"github.com/coinbase/chainexport"
)

// ChainName identifies Stellar in logs, metrics and sink keys.
const ChainName = "stellar"

// Source exports each ledger followed by its transactions. Transactions are
// only requested from Horizon when they are exported.
type Source struct {
	client             *Client
	transform          chainexport.TransformFunc
	exportLedgers      bool
	exportTransactions bool
}

// NewSource returns a Source reading from client.
func NewSource(client *Client, exportLedgers, exportTransactions bool) *Source {
	return &Source{
		client:             client,
		transform:          Transform,
		exportLedgers:      exportLedgers,
		exportTransactions: exportTransactions,
	}
}

func (s *Source) Chain() string { return ChainName }

// CurrentHeight returns the latest ledger sequence known to Horizon.
func (s *Source) CurrentHeight(ctx context.Context) (uint64, error) {
	return s.client.LatestLedger(ctx)
}

// FetchPosition returns the records of ledger seq.
func (s *Source) FetchPosition(ctx context.Context, seq uint64) ([]chainexport.Record, error) {
	var records []chainexport.Record

	if s.exportLedgers {
		raw, err := s.client.Ledger(ctx, seq)
		if err != nil {
			return nil, err
		}
		ledger, err := s.transform(chainexport.KindLedger, raw, chainexport.TransformContext{})
		if err != nil {
			return nil, err
		}
		if ledger.Position() != seq {
			return nil, chainexport.NewMalformedInputError("sequence",
				fmt.Sprintf("is %d, requested %d", ledger.Position(), seq), nil)
		}
		records = append(records, ledger)
	}

	if s.exportTransactions {
		txs, err := s.client.LedgerTransactions(ctx, seq)
		if err != nil {
			return nil, err
		}
		tc := chainexport.WithBlockNumber(seq)
		for _, raw := range txs {
			tx, err := s.transform(chainexport.KindTransaction, raw, tc)
			if err != nil {
				return nil, err
			}
			records = append(records, tx)
		}
	}
	return records, nil
}
