package stellar

import (
	"strconv"

	"github.com/coinbase/chainexport"
)

// Ledger is the canonical record of a closed Stellar ledger.
type Ledger struct {
	Number                     uint64  `json:"number"`
	Hash                       string  `json:"hash"`
	PrevHash                   *string `json:"prev_hash"`
	Timestamp                  int64   `json:"timestamp"`
	ClosedAt                   string  `json:"closed_at"`
	SuccessfulTransactionCount int64   `json:"successful_transaction_count"`
	FailedTransactionCount     *int64  `json:"failed_transaction_count"`
	OperationCount             int64   `json:"operation_count"`
	TxSetOperationCount        *int64  `json:"tx_set_operation_count"`
	TotalCoins                 *string `json:"total_coins"`
	FeePool                    *string `json:"fee_pool"`
	BaseFeeInStroops           *int64  `json:"base_fee_in_stroops"`
	BaseReserveInStroops       *int64  `json:"base_reserve_in_stroops"`
	MaxTxSetSize               *int64  `json:"max_tx_set_size"`
	ProtocolVersion            int64   `json:"protocol_version"`
	HeaderXDR                  *string `json:"header_xdr"`
}

func (l *Ledger) Type() string     { return "ledger" }
func (l *Ledger) Position() uint64 { return l.Number }
func (l *Ledger) Key() string      { return strconv.FormatUint(l.Number, 10) }

func (l *Ledger) MarshalJSON() ([]byte, error) {
	type ledger Ledger
	return chainexport.MarshalTagged(l.Type(), (*ledger)(l))
}

// Transaction is the canonical record of a Stellar transaction, including
// failed ones. Nested structures whose shape depends on the transaction kind
// are canonical strings.
type Transaction struct {
	ID                    string   `json:"id"`
	Hash                  string   `json:"hash"`
	LedgerNumber          uint64   `json:"ledger_number"`
	Timestamp             int64    `json:"timestamp"`
	CreatedAt             string   `json:"created_at"`
	Successful            bool     `json:"successful"`
	PagingToken           string   `json:"paging_token"`
	SourceAccount         string   `json:"source_account"`
	SourceAccountSequence string   `json:"source_account_sequence"`
	FeeAccount            *string  `json:"fee_account"`
	FeeCharged            int64    `json:"fee_charged"`
	MaxFee                int64    `json:"max_fee"`
	OperationCount        int64    `json:"operation_count"`
	EnvelopeXDR           string   `json:"envelope_xdr"`
	ResultXDR             string   `json:"result_xdr"`
	ResultMetaXDR         *string  `json:"result_meta_xdr"`
	FeeMetaXDR            *string  `json:"fee_meta_xdr"`
	MemoType              string   `json:"memo_type"`
	Memo                  *string  `json:"memo"`
	MemoBytes             *string  `json:"memo_bytes"`
	Signatures            []string `json:"signatures"`
	ValidAfter            *string  `json:"valid_after"`
	ValidBefore           *string  `json:"valid_before"`
	Preconditions         *string  `json:"preconditions"`
	FeeBumpTransaction    *string  `json:"fee_bump_transaction"`
	InnerTransaction      *string  `json:"inner_transaction"`
}

func (t *Transaction) Type() string     { return "transaction" }
func (t *Transaction) Position() uint64 { return t.LedgerNumber }
func (t *Transaction) Key() string      { return t.Hash }

func (t *Transaction) MarshalJSON() ([]byte, error) {
	type transaction Transaction
	return chainexport.MarshalTagged(t.Type(), (*transaction)(t))
}
