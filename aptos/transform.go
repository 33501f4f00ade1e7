package aptos

import (
	"github.com/coinbase/chainexport"
	"github.com/pkg/errors"
)

var (
	blockRenames       = chainexport.RenameTable{"block_hash": "hash", "block_height": "number"}
	transactionRenames = chainexport.RenameTable{"type": "tx_type"}
)

// Transform converts raw into the record for kind. Aptos produces blocks and
// transactions.
func Transform(kind chainexport.EntityKind, raw chainexport.RawPayload,
	tc chainexport.TransformContext) (chainexport.Record, error) {

	switch kind {
	case chainexport.KindBlock:
		b, err := TransformBlock(raw)
		if err != nil {
			return nil, err
		}
		return b, nil
	case chainexport.KindTransaction:
		tx, err := TransformTransaction(raw, tc)
		if err != nil {
			return nil, err
		}
		return tx, nil
	default:
		return nil, errors.Wrapf(chainexport.ErrUnknownEntityKind, "aptos %q", kind)
	}
}

// TransformBlock converts a /v1/blocks payload into a Block. The block's
// transactions are not read.
func TransformBlock(raw chainexport.RawPayload) (*Block, error) {
	p, err := chainexport.Project(raw, blockRenames)
	if err != nil {
		return nil, err
	}

	var b Block
	if b.Hash, err = p.RequireString("hash"); err != nil {
		return nil, err
	}
	if b.Number, err = p.RequireUint("number"); err != nil {
		return nil, err
	}
	micros, err := p.RequireInt("block_timestamp")
	if err != nil {
		return nil, err
	}
	b.Timestamp = chainexport.MicrosToSeconds(micros)
	if b.FirstVersion, err = p.RequireUint("first_version"); err != nil {
		return nil, err
	}
	if b.LastVersion, err = p.RequireUint("last_version"); err != nil {
		return nil, err
	}
	return &b, nil
}

// TransformTransaction converts a transaction payload into a Transaction.
// Transactions embedded in a block payload carry no block_number, so it is
// taken from tc when absent.
func TransformTransaction(raw chainexport.RawPayload,
	tc chainexport.TransformContext) (*Transaction, error) {

	p, err := chainexport.Project(raw, transactionRenames)
	if err != nil {
		return nil, err
	}

	var tx Transaction
	if tx.Hash, err = p.RequireString("hash"); err != nil {
		return nil, err
	}
	switch {
	case p.Has("block_number"):
		if tx.BlockNumber, err = p.RequireUint("block_number"); err != nil {
			return nil, err
		}
	case tc.BlockNumber != nil:
		tx.BlockNumber = *tc.BlockNumber
	default:
		return nil, chainexport.NewMalformedInputError(p.Path("block_number"),
			"is required", nil)
	}
	if tx.StateChangeHash, err = p.RequireString("state_change_hash"); err != nil {
		return nil, err
	}
	if tx.EventRootHash, err = p.RequireString("event_root_hash"); err != nil {
		return nil, err
	}
	if tx.Version, err = p.RequireUint("version"); err != nil {
		return nil, err
	}
	if tx.GasUsed, err = p.RequireUint("gas_used"); err != nil {
		return nil, err
	}
	if tx.Success, err = p.RequireBool("success"); err != nil {
		return nil, err
	}
	if tx.VMStatus, err = p.RequireString("vm_status"); err != nil {
		return nil, err
	}
	if tx.AccumulatorRootHash, err = p.RequireString("accumulator_root_hash"); err != nil {
		return nil, err
	}
	if tx.TxType, err = p.RequireString("tx_type"); err != nil {
		return nil, err
	}
	if tx.Changes, err = transformChanges(p, "changes"); err != nil {
		return nil, err
	}
	if tx.Changes == nil {
		tx.Changes = []Change{}
	}

	tx.Sender = p.OptionalString("sender")
	tx.StateCheckpointHash = p.OptionalString("state_checkpoint_hash")
	tx.ID = p.OptionalString("id")
	tx.Epoch = p.OptionalString("epoch")
	tx.Round = p.OptionalString("round")
	tx.Proposer = p.OptionalString("proposer")
	if tx.PreviousBlockVotesBitvec, err = p.Ints("previous_block_votes_bitvec"); err != nil {
		return nil, err
	}
	if tx.FailedProposerIndices, err = p.Ints("failed_proposer_indices"); err != nil {
		return nil, err
	}

	// The REST API reports "timestamp" in microseconds. Some indexer
	// payloads carry "timestamp_secs" instead.
	switch {
	case p.Has("timestamp"):
		micros, err := p.OptionalInt("timestamp")
		if err != nil {
			return nil, err
		}
		if micros != nil {
			secs := chainexport.MicrosToSeconds(*micros)
			tx.Timestamp = &secs
		}
	case p.Has("timestamp_secs"):
		if tx.Timestamp, err = p.OptionalInt("timestamp_secs"); err != nil {
			return nil, err
		}
	}

	if tx.MaxGasAmount, err = p.OptionalInt("max_gas_amount"); err != nil {
		return nil, err
	}
	if tx.GasUnitPrice, err = p.OptionalInt("gas_unit_price"); err != nil {
		return nil, err
	}
	if tx.ExpirationTimestampSecs, err = p.OptionalInt("expiration_timestamp_secs"); err != nil {
		return nil, err
	}
	if tx.Payload, err = transformPayload(p); err != nil {
		return nil, err
	}
	if tx.Events, err = transformEvents(p, "events"); err != nil {
		return nil, err
	}
	if tx.Signature, err = transformSignature(p); err != nil {
		return nil, err
	}
	return &tx, nil
}

func transformEvents(p chainexport.Projection, field string) ([]Event, error) {
	items, err := p.Objects(field)
	if err != nil || items == nil {
		return nil, err
	}

	events := make([]Event, 0, len(items))
	for _, item := range items {
		var ev Event
		guid, ok, err := item.Object("guid", nil)
		if err != nil {
			return nil, err
		}
		if ok {
			if ev.GUID.CreationNumber, err = guid.RequireInt("creation_number"); err != nil {
				return nil, err
			}
			if ev.GUID.AccountAddress, err = guid.RequireString("account_address"); err != nil {
				return nil, err
			}
		}
		if ev.SequenceNumber, err = item.RequireInt("sequence_number"); err != nil {
			return nil, err
		}
		if ev.Type, err = item.RequireString("type"); err != nil {
			return nil, err
		}
		if ev.Data, err = item.RequireCanonical("data"); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func transformChanges(p chainexport.Projection, field string) ([]Change, error) {
	items, err := p.Objects(field)
	if err != nil || items == nil {
		return nil, err
	}

	changes := make([]Change, 0, len(items))
	for _, item := range items {
		var c Change
		if c.Type, err = item.RequireString("type"); err != nil {
			return nil, err
		}
		if c.StateKeyHash, err = item.RequireString("state_key_hash"); err != nil {
			return nil, err
		}
		c.Address = item.OptionalString("address")
		c.Module = item.OptionalString("module")
		c.Resource = item.OptionalString("resource")
		c.Key = item.OptionalString("key")
		c.Handle = item.OptionalString("handle")
		c.Value = item.OptionalString("value")

		if item.Raw("data").IsObject() {
			data, _, err := item.Object("data", nil)
			if err != nil {
				return nil, err
			}
			c.Data = &ChangeData{
				Type:      data.OptionalString("type"),
				Key:       data.OptionalString("key"),
				KeyType:   data.OptionalString("key_type"),
				Value:     data.OptionalString("value"),
				ValueType: data.OptionalString("value_type"),
				Data:      data.OptionalString("data"),
				Bytecode:  data.OptionalString("bytecode"),
				ABI:       data.OptionalString("abi"),
			}
		} else if s := item.OptionalString("data"); s != nil {
			c.Data = &ChangeData{Data: s}
		}
		changes = append(changes, c)
	}
	return changes, nil
}

func transformPayload(p chainexport.Projection) (*Payload, error) {
	pp, ok, err := p.Object("payload", nil)
	if err != nil || !ok {
		return nil, err
	}

	var payload Payload
	if payload.Type, err = pp.RequireString("type"); err != nil {
		return nil, err
	}
	payload.Function = pp.OptionalString("function")
	payload.MultisigAddress = pp.OptionalString("multisig_address")
	payload.TransactionPayload = pp.OptionalString("transaction_payload")
	if payload.TypeArguments, err = pp.Strings("type_arguments"); err != nil {
		return nil, err
	}
	if payload.Arguments, err = pp.Strings("arguments"); err != nil {
		return nil, err
	}
	if payload.Modules, err = pp.Strings("modules"); err != nil {
		return nil, err
	}
	if payload.Code, err = transformCode(pp); err != nil {
		return nil, err
	}
	if payload.WriteSet, err = transformWriteSet(pp); err != nil {
		return nil, err
	}
	return &payload, nil
}

func transformWriteSet(p chainexport.Projection) (*WriteSet, error) {
	wp, ok, err := p.Object("write_set", nil)
	if err != nil || !ok {
		return nil, err
	}

	var ws WriteSet
	if ws.Type, err = wp.RequireString("type"); err != nil {
		return nil, err
	}
	ws.ExecuteAs = wp.OptionalString("execute_as")
	if ws.Changes, err = transformChanges(wp, "changes"); err != nil {
		return nil, err
	}
	if ws.Events, err = transformEvents(wp, "events"); err != nil {
		return nil, err
	}

	sp, ok, err := wp.Object("script", nil)
	if err != nil {
		return nil, err
	}
	if ok {
		var script Script
		if script.Code, err = transformCode(sp); err != nil {
			return nil, err
		}
		if script.TypeArguments, err = sp.Strings("type_arguments"); err != nil {
			return nil, err
		}
		if script.Arguments, err = sp.Strings("arguments"); err != nil {
			return nil, err
		}
		ws.Script = &script
	}
	return &ws, nil
}

func transformCode(p chainexport.Projection) (*Code, error) {
	cp, ok, err := p.Object("code", nil)
	if err != nil || !ok {
		return nil, err
	}

	code := Code{Bytecode: cp.OptionalString("bytecode")}
	ap, ok, err := cp.Object("abi", nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &code, nil
	}

	abi := ABI{
		Name:              ap.OptionalString("name"),
		Visibility:        ap.OptionalString("visibility"),
		GenericTypeParams: ap.OptionalString("generic_type_params"),
	}
	if abi.IsEntry, err = ap.OptionalBool("is_entry"); err != nil {
		return nil, err
	}
	if abi.IsView, err = ap.OptionalBool("is_view"); err != nil {
		return nil, err
	}
	if abi.Params, err = ap.Strings("params"); err != nil {
		return nil, err
	}
	if abi.ReturnType, err = ap.Strings("return"); err != nil {
		return nil, err
	}
	if len(abi.ReturnType) == 0 {
		if abi.ReturnType, err = ap.Strings("return_type"); err != nil {
			return nil, err
		}
	}
	code.ABI = &abi
	return &code, nil
}

func transformSignature(p chainexport.Projection) (*Signature, error) {
	sp, ok, err := p.Object("signature", nil)
	if err != nil || !ok {
		return nil, err
	}

	sig := Signature{
		PublicKey:        sp.OptionalString("public_key"),
		Signature:        sp.OptionalString("signature"),
		Bitmap:           sp.OptionalString("bitmap"),
		Sender:           sp.OptionalString("sender"),
		SecondarySigners: sp.OptionalString("secondary_signers"),
		FeePayerAddress:  sp.OptionalString("fee_payer_address"),
		FeePayerSigner:   sp.OptionalString("fee_payer_signer"),
	}
	if sig.Type, err = sp.RequireString("type"); err != nil {
		return nil, err
	}
	if sig.Signatures, err = sp.Strings("signatures"); err != nil {
		return nil, err
	}
	if sig.PublicKeys, err = sp.Strings("public_keys"); err != nil {
		return nil, err
	}
	if sig.SecondarySignerAddresses, err = sp.Strings("secondary_signer_addresses"); err != nil {
		return nil, err
	}
	if sig.Threshold, err = sp.OptionalInt("threshold"); err != nil {
		return nil, err
	}
	return &sig, nil
}
