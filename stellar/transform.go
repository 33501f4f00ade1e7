package stellar

import (
	"time"

	"github.com/coinbase/chainexport"
	"github.com/pkg/errors"
)

var (
	ledgerRenames      = chainexport.RenameTable{"sequence": "number"}
	transactionRenames = chainexport.RenameTable{"ledger": "ledger_number"}
)

// Transform converts raw into the record for kind. Stellar produces ledgers
// and transactions.
func Transform(kind chainexport.EntityKind, raw chainexport.RawPayload,
	tc chainexport.TransformContext) (chainexport.Record, error) {

	switch kind {
	case chainexport.KindLedger:
		l, err := TransformLedger(raw)
		if err != nil {
			return nil, err
		}
		return l, nil
	case chainexport.KindTransaction:
		tx, err := TransformTransaction(raw, tc)
		if err != nil {
			return nil, err
		}
		return tx, nil
	default:
		return nil, errors.Wrapf(chainexport.ErrUnknownEntityKind, "stellar %q", kind)
	}
}

// TransformLedger converts a Horizon ledger resource into a Ledger.
func TransformLedger(raw chainexport.RawPayload) (*Ledger, error) {
	p, err := chainexport.Project(raw, ledgerRenames)
	if err != nil {
		return nil, err
	}

	var l Ledger
	if l.Hash, err = p.RequireString("hash"); err != nil {
		return nil, err
	}
	if l.Number, err = p.RequireUint("number"); err != nil {
		return nil, err
	}
	if l.ClosedAt, l.Timestamp, err = requireTime(p, "closed_at"); err != nil {
		return nil, err
	}
	if l.SuccessfulTransactionCount, err = p.RequireInt("successful_transaction_count"); err != nil {
		return nil, err
	}
	if l.OperationCount, err = p.RequireInt("operation_count"); err != nil {
		return nil, err
	}
	if l.ProtocolVersion, err = p.RequireInt("protocol_version"); err != nil {
		return nil, err
	}

	l.PrevHash = p.OptionalString("prev_hash")
	l.TotalCoins = p.OptionalString("total_coins")
	l.FeePool = p.OptionalString("fee_pool")
	l.HeaderXDR = p.OptionalString("header_xdr")
	if l.FailedTransactionCount, err = p.OptionalInt("failed_transaction_count"); err != nil {
		return nil, err
	}
	if l.TxSetOperationCount, err = p.OptionalInt("tx_set_operation_count"); err != nil {
		return nil, err
	}
	if l.BaseFeeInStroops, err = p.OptionalInt("base_fee_in_stroops"); err != nil {
		return nil, err
	}
	if l.BaseReserveInStroops, err = p.OptionalInt("base_reserve_in_stroops"); err != nil {
		return nil, err
	}
	if l.MaxTxSetSize, err = p.OptionalInt("max_tx_set_size"); err != nil {
		return nil, err
	}
	return &l, nil
}

// TransformTransaction converts a Horizon transaction resource into a
// Transaction. The ledger sequence is taken from tc when the resource does
// not carry it.
func TransformTransaction(raw chainexport.RawPayload,
	tc chainexport.TransformContext) (*Transaction, error) {

	p, err := chainexport.Project(raw, transactionRenames)
	if err != nil {
		return nil, err
	}

	var tx Transaction
	if tx.ID, err = p.RequireString("id"); err != nil {
		return nil, err
	}
	if tx.Hash, err = p.RequireString("hash"); err != nil {
		return nil, err
	}
	switch {
	case p.Has("ledger_number"):
		if tx.LedgerNumber, err = p.RequireUint("ledger_number"); err != nil {
			return nil, err
		}
	case tc.BlockNumber != nil:
		tx.LedgerNumber = *tc.BlockNumber
	default:
		return nil, chainexport.NewMalformedInputError(p.Path("ledger_number"),
			"is required", nil)
	}
	if tx.CreatedAt, tx.Timestamp, err = requireTime(p, "created_at"); err != nil {
		return nil, err
	}
	if tx.Successful, err = p.RequireBool("successful"); err != nil {
		return nil, err
	}
	if tx.PagingToken, err = p.RequireString("paging_token"); err != nil {
		return nil, err
	}
	if tx.SourceAccount, err = p.RequireString("source_account"); err != nil {
		return nil, err
	}
	if tx.SourceAccountSequence, err = p.RequireString("source_account_sequence"); err != nil {
		return nil, err
	}
	if tx.FeeCharged, err = p.RequireInt("fee_charged"); err != nil {
		return nil, err
	}
	if tx.MaxFee, err = p.RequireInt("max_fee"); err != nil {
		return nil, err
	}
	if tx.OperationCount, err = p.RequireInt("operation_count"); err != nil {
		return nil, err
	}
	if tx.EnvelopeXDR, err = p.RequireString("envelope_xdr"); err != nil {
		return nil, err
	}
	if tx.ResultXDR, err = p.RequireString("result_xdr"); err != nil {
		return nil, err
	}
	if tx.MemoType, err = p.RequireString("memo_type"); err != nil {
		return nil, err
	}

	tx.FeeAccount = p.OptionalString("fee_account")
	tx.ResultMetaXDR = p.OptionalString("result_meta_xdr")
	tx.FeeMetaXDR = p.OptionalString("fee_meta_xdr")
	tx.Memo = p.OptionalString("memo")
	tx.MemoBytes = p.OptionalString("memo_bytes")
	tx.ValidAfter = p.OptionalString("valid_after")
	tx.ValidBefore = p.OptionalString("valid_before")
	tx.Preconditions = p.OptionalString("preconditions")
	tx.FeeBumpTransaction = p.OptionalString("fee_bump_transaction")
	tx.InnerTransaction = p.OptionalString("inner_transaction")
	if tx.Signatures, err = p.Strings("signatures"); err != nil {
		return nil, err
	}
	return &tx, nil
}

// requireTime reads an RFC 3339 timestamp field and returns it together with
// its Unix seconds.
func requireTime(p chainexport.Projection, field string) (string, int64, error) {
	text, err := p.RequireString(field)
	if err != nil {
		return "", 0, err
	}
	ts, err := time.Parse(time.RFC3339, text)
	if err != nil {
		return "", 0, chainexport.NewMalformedInputError(p.Path(field),
			"is not an RFC 3339 timestamp", err)
	}
	return text, ts.Unix(), nil
}
