package aptos

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/coinbase/chainexport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const blockPayload = `{
	"block_hash": "0xabc",
	"block_height": "10",
	"block_timestamp": "1700000000000000",
	"first_version": "1",
	"last_version": "5"
}`

const userTransactionPayload = `{
	"version": "42",
	"hash": "0xfeed",
	"state_change_hash": "0x01",
	"event_root_hash": "0x02",
	"state_checkpoint_hash": null,
	"gas_used": "7",
	"success": true,
	"vm_status": "Executed successfully",
	"accumulator_root_hash": "0x03",
	"changes": [
		{
			"type": "write_resource",
			"address": "0x1",
			"state_key_hash": "0x04",
			"data": {"type": "0x1::coin::CoinStore", "data": {"coin": {"value": "100"}}}
		},
		{
			"type": "write_table_item",
			"state_key_hash": "0x05",
			"handle": "0x6",
			"key": "0x07",
			"value": "0x08",
			"data": {"key": {"a": 1}, "key_type": "u64", "value": 9, "value_type": "u64"}
		}
	],
	"sender": "0xcafe",
	"sequence_number": "3",
	"max_gas_amount": "2000",
	"gas_unit_price": "100",
	"expiration_timestamp_secs": "1700000600",
	"payload": {
		"type": "entry_function_payload",
		"function": "0x1::coin::transfer",
		"type_arguments": ["0x1::aptos_coin::AptosCoin"],
		"arguments": ["0xbeef", "1000", {"inner": true}]
	},
	"signature": {
		"type": "ed25519_signature",
		"public_key": "0xaa",
		"signature": "0xbb"
	},
	"events": [
		{
			"guid": {"creation_number": "2", "account_address": "0xcafe"},
			"sequence_number": "11",
			"type": "0x1::coin::WithdrawEvent",
			"data": {"amount": "1000"}
		}
	],
	"timestamp": "1700000000999999",
	"type": "user_transaction"
}`

func TestTransformBlockExample(t *testing.T) {
	block, err := TransformBlock(gjson.Parse(blockPayload))
	require.NoError(t, err)

	assert.Equal(t, "0xabc", block.Hash)
	assert.Equal(t, uint64(10), block.Number)
	assert.Equal(t, int64(1700000000), block.Timestamp)
	assert.Equal(t, uint64(1), block.FirstVersion)
	assert.Equal(t, uint64(5), block.LastVersion)

	data, err := json.Marshal(block)
	require.NoError(t, err)
	assert.Equal(t,
		`{"type":"block","number":10,"hash":"0xabc","timestamp":1700000000,"first_version":1,"last_version":5}`,
		string(data))
}

func TestTransformBlockIgnoresUnknownKeys(t *testing.T) {
	withExtras := `{
		"block_hash": "0xabc",
		"block_height": "10",
		"block_timestamp": "1700000000000000",
		"first_version": "1",
		"last_version": "5",
		"transactions": [{"hash": "0x1"}],
		"hash": "0xignored",
		"surprise": {"nested": [1, 2, 3]}
	}`

	want, err := TransformBlock(gjson.Parse(blockPayload))
	require.NoError(t, err)
	got, err := TransformBlock(gjson.Parse(withExtras))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTransformBlockMissingField(t *testing.T) {
	for _, field := range []string{"block_hash", "block_height", "block_timestamp",
		"first_version", "last_version"} {

		t.Run(field, func(t *testing.T) {
			var raw map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(blockPayload), &raw))
			delete(raw, field)
			data, err := json.Marshal(raw)
			require.NoError(t, err)

			_, err = TransformBlock(gjson.ParseBytes(data))
			var malformed *chainexport.MalformedInputError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, field, malformedRawField(malformed.Field))
		})
	}
}

// malformedRawField maps the output field named in an error back to the
// payload key it is read from.
func malformedRawField(field string) string {
	for from, to := range blockRenames {
		if to == field {
			return from
		}
	}
	return field
}

func TestTransformTransaction(t *testing.T) {
	tx, err := TransformTransaction(gjson.Parse(userTransactionPayload),
		chainexport.WithBlockNumber(10))
	require.NoError(t, err)

	assert.Equal(t, "0xfeed", tx.Hash)
	assert.Equal(t, uint64(10), tx.BlockNumber)
	assert.Equal(t, uint64(42), tx.Version)
	assert.Equal(t, uint64(7), tx.GasUsed)
	assert.True(t, tx.Success)
	assert.Equal(t, "user_transaction", tx.TxType)
	assert.Nil(t, tx.StateCheckpointHash)
	require.NotNil(t, tx.Sender)
	assert.Equal(t, "0xcafe", *tx.Sender)

	require.NotNil(t, tx.Timestamp)
	assert.Equal(t, int64(1700000000), *tx.Timestamp)
	require.NotNil(t, tx.MaxGasAmount)
	assert.Equal(t, int64(2000), *tx.MaxGasAmount)
	require.NotNil(t, tx.ExpirationTimestampSecs)
	assert.Equal(t, int64(1700000600), *tx.ExpirationTimestampSecs)

	require.Len(t, tx.Changes, 2)
	require.NotNil(t, tx.Changes[0].Data)
	assert.Equal(t, `{"coin":{"value":"100"}}`, *tx.Changes[0].Data.Data)
	assert.Equal(t, `{"a":1}`, *tx.Changes[1].Data.Key)
	assert.Equal(t, "9", *tx.Changes[1].Data.Value)

	require.NotNil(t, tx.Payload)
	assert.Equal(t, []string{"0xbeef", "1000", `{"inner":true}`}, tx.Payload.Arguments)

	require.Len(t, tx.Events, 1)
	assert.Equal(t, int64(2), tx.Events[0].GUID.CreationNumber)
	assert.Equal(t, int64(11), tx.Events[0].SequenceNumber)
	assert.Equal(t, `{"amount":"1000"}`, tx.Events[0].Data)

	require.NotNil(t, tx.Signature)
	assert.Equal(t, "ed25519_signature", tx.Signature.Type)
	assert.Nil(t, tx.Signature.Threshold)
}

func TestTransformTransactionIgnoresUnknownKeys(t *testing.T) {
	// tx_type is only ever read from the raw "type" key.
	withExtras := strings.Replace(userTransactionPayload, "{", `{
		"tx_type": "ignored",
		"surprise": {"nested": [1, 2, 3]},
		"vm_flags": [true, false],`, 1)

	tc := chainexport.WithBlockNumber(10)
	want, err := TransformTransaction(gjson.Parse(userTransactionPayload), tc)
	require.NoError(t, err)
	got, err := TransformTransaction(gjson.Parse(withExtras), tc)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTransformTransactionSerializesTypeFirst(t *testing.T) {
	tx, err := TransformTransaction(gjson.Parse(userTransactionPayload),
		chainexport.WithBlockNumber(10))
	require.NoError(t, err)

	data, err := json.Marshal(tx)
	require.NoError(t, err)

	out := gjson.ParseBytes(data)
	assert.Equal(t, "transaction", out.Get("type").String())
	assert.Equal(t, "user_transaction", out.Get("tx_type").String())
	assert.Equal(t, `{"type":"transaction",`, string(data[:len(`{"type":"transaction",`)]))

	// Fields not present in the payload serialize as null.
	assert.Equal(t, gjson.Null, out.Get("proposer").Type)
	assert.True(t, out.Get("proposer").Exists())
	assert.False(t, out.Get("sequence_number").Exists())
}

func TestTransformTransactionBlockNumber(t *testing.T) {
	withNumber := `{"hash":"0x1","block_number":"77","state_change_hash":"0x2",
		"event_root_hash":"0x3","version":"1","gas_used":"0","success":true,
		"vm_status":"ok","accumulator_root_hash":"0x4","type":"block_metadata_transaction"}`

	tx, err := TransformTransaction(gjson.Parse(withNumber), chainexport.WithBlockNumber(5))
	require.NoError(t, err)
	assert.Equal(t, uint64(77), tx.BlockNumber)
	assert.Equal(t, []Change{}, tx.Changes)
	assert.Nil(t, tx.Events)
	assert.Nil(t, tx.Payload)

	_, err = TransformTransaction(gjson.Parse(userTransactionPayload),
		chainexport.TransformContext{})
	var malformed *chainexport.MalformedInputError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "block_number", malformed.Field)
}

func TestTransformTransactionFalsyOptionals(t *testing.T) {
	payload := `{"hash":"0x1","block_number":"1","state_change_hash":"0x2",
		"event_root_hash":"0x3","version":"1","gas_used":"0","success":false,
		"vm_status":"ok","accumulator_root_hash":"0x4","type":"user_transaction",
		"max_gas_amount":"0","gas_unit_price":0,"expiration_timestamp_secs":"",
		"timestamp_secs":"1700000000"}`

	tx, err := TransformTransaction(gjson.Parse(payload), chainexport.TransformContext{})
	require.NoError(t, err)
	assert.Nil(t, tx.MaxGasAmount)
	assert.Nil(t, tx.GasUnitPrice)
	assert.Nil(t, tx.ExpirationTimestampSecs)
	assert.Equal(t, uint64(0), tx.GasUsed)
	require.NotNil(t, tx.Timestamp)
	assert.Equal(t, int64(1700000000), *tx.Timestamp)
}

func TestTransformTransactionWriteSetReturnAlias(t *testing.T) {
	payload := `{"hash":"0x1","block_number":"0","state_change_hash":"0x2",
		"event_root_hash":"0x3","version":"0","gas_used":"0","success":true,
		"vm_status":"ok","accumulator_root_hash":"0x4","type":"genesis_transaction",
		"payload":{"type":"write_set_payload","write_set":{
			"type":"script_write_set","execute_as":"0x1",
			"script":{"code":{"bytecode":"0xa11ce","abi":{"name":"main",
				"visibility":"public","is_entry":true,"is_view":false,
				"generic_type_params":[],"params":["signer"],"return":["u64"]}},
				"type_arguments":[],"arguments":[]}}}}`

	tx, err := TransformTransaction(gjson.Parse(payload), chainexport.TransformContext{})
	require.NoError(t, err)

	require.NotNil(t, tx.Payload)
	require.NotNil(t, tx.Payload.WriteSet)
	require.NotNil(t, tx.Payload.WriteSet.Script)
	abi := tx.Payload.WriteSet.Script.Code.ABI
	require.NotNil(t, abi)
	assert.Equal(t, []string{"u64"}, abi.ReturnType)
	assert.Equal(t, "[]", *abi.GenericTypeParams)
	assert.True(t, *abi.IsEntry)
}

func TestTransformTransactionNestedError(t *testing.T) {
	payload := `{"hash":"0x1","block_number":"1","state_change_hash":"0x2",
		"event_root_hash":"0x3","version":"1","gas_used":"0","success":true,
		"vm_status":"ok","accumulator_root_hash":"0x4","type":"user_transaction",
		"events":[{"guid":{"creation_number":"0","account_address":"0x1"},
			"sequence_number":"0","type":"a","data":{}},
			{"guid":{"creation_number":"x","account_address":"0x1"},
			"sequence_number":"0","type":"a","data":{}}]}`

	_, err := TransformTransaction(gjson.Parse(payload), chainexport.TransformContext{})
	var malformed *chainexport.MalformedInputError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "events.1.guid.creation_number", malformed.Field)
}

func TestTransformDispatch(t *testing.T) {
	rec, err := Transform(chainexport.KindBlock, gjson.Parse(blockPayload),
		chainexport.TransformContext{})
	require.NoError(t, err)
	assert.Equal(t, "block", rec.Type())
	assert.Equal(t, uint64(10), rec.Position())

	_, err = Transform(chainexport.KindLedger, gjson.Parse(blockPayload),
		chainexport.TransformContext{})
	assert.ErrorIs(t, err, chainexport.ErrUnknownEntityKind)
}
