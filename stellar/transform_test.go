package stellar

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/coinbase/chainexport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const ledgerPayload = `{
	"_links": {"self": {"href": "https://horizon/ledgers/7"}},
	"id": "abc",
	"paging_token": "30064771072",
	"hash": "0xledger7",
	"prev_hash": "0xledger6",
	"sequence": 7,
	"successful_transaction_count": 2,
	"failed_transaction_count": 0,
	"operation_count": 3,
	"tx_set_operation_count": 3,
	"closed_at": "2023-11-14T22:13:20Z",
	"total_coins": "105443902087.3472865",
	"fee_pool": "3.1001000",
	"base_fee_in_stroops": 100,
	"base_reserve_in_stroops": 5000000,
	"max_tx_set_size": 100,
	"protocol_version": 20,
	"header_xdr": "AAAA"
}`

func testTransactionPayload(ledger, hash, token string) string {
	return `{
		"id": "` + hash + `",
		"paging_token": "` + token + `",
		"successful": true,
		"hash": "` + hash + `",
		"ledger": ` + ledger + `,
		"created_at": "2023-11-14T22:13:20Z",
		"source_account": "GABC",
		"source_account_sequence": "123456789",
		"fee_account": "GABC",
		"fee_charged": "100",
		"max_fee": "200",
		"operation_count": 1,
		"envelope_xdr": "AAAAenv",
		"result_xdr": "AAAAres",
		"result_meta_xdr": "AAAAmeta",
		"fee_meta_xdr": "AAAAfee",
		"memo_type": "none",
		"signatures": ["sig1"],
		"preconditions": {"timebounds": {"min_time": "0"}}
	}`
}

func TestTransformLedger(t *testing.T) {
	ledger, err := TransformLedger(gjson.Parse(ledgerPayload))
	require.NoError(t, err)

	assert.Equal(t, uint64(7), ledger.Number)
	assert.Equal(t, "0xledger7", ledger.Hash)
	assert.Equal(t, int64(1700000000), ledger.Timestamp)
	assert.Equal(t, int64(2), ledger.SuccessfulTransactionCount)
	assert.Nil(t, ledger.FailedTransactionCount)
	require.NotNil(t, ledger.BaseFeeInStroops)
	assert.Equal(t, int64(100), *ledger.BaseFeeInStroops)
	assert.Equal(t, "105443902087.3472865", *ledger.TotalCoins)

	data, err := json.Marshal(ledger)
	require.NoError(t, err)
	out := gjson.ParseBytes(data)
	assert.Equal(t, "ledger", out.Get("type").String())
	assert.Equal(t, int64(7), out.Get("number").Int())
	assert.False(t, out.Get("sequence").Exists())
	assert.False(t, out.Get("_links").Exists())
}

func TestTransformLedgerIgnoresUnknownKeys(t *testing.T) {
	// number is only ever read from the raw "sequence" key.
	withExtras := strings.Replace(ledgerPayload, "{", `{
		"number": 999,
		"_links": {"self": {"href": "https://horizon/ledgers/7"}},
		"surprise": [1, 2, 3],`, 1)

	want, err := TransformLedger(gjson.Parse(ledgerPayload))
	require.NoError(t, err)
	got, err := TransformLedger(gjson.Parse(withExtras))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTransformLedgerBadTimestamp(t *testing.T) {
	payload := `{"hash":"h","sequence":1,"closed_at":"yesterday",
		"successful_transaction_count":0,"operation_count":0,"protocol_version":20}`

	_, err := TransformLedger(gjson.Parse(payload))
	var malformed *chainexport.MalformedInputError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "closed_at", malformed.Field)
}

func TestTransformTransaction(t *testing.T) {
	tx, err := TransformTransaction(gjson.Parse(testTransactionPayload("7", "0xtx", "1")),
		chainexport.TransformContext{})
	require.NoError(t, err)

	assert.Equal(t, uint64(7), tx.LedgerNumber)
	assert.Equal(t, int64(100), tx.FeeCharged)
	assert.Equal(t, int64(1700000000), tx.Timestamp)
	assert.Equal(t, []string{"sig1"}, tx.Signatures)
	assert.Equal(t, `{"timebounds":{"min_time":"0"}}`, *tx.Preconditions)
	assert.Nil(t, tx.Memo)
	assert.Equal(t, "0xtx", tx.Key())
}

func TestTransformTransactionIgnoresUnknownKeys(t *testing.T) {
	payload := testTransactionPayload("7", "0xtx", "1")
	withExtras := strings.Replace(payload, "{", `{
		"ledger_number": 999,
		"_links": {"ledger": {"href": "https://horizon/ledgers/7"}},
		"surprise": null,`, 1)

	want, err := TransformTransaction(gjson.Parse(payload), chainexport.TransformContext{})
	require.NoError(t, err)
	got, err := TransformTransaction(gjson.Parse(withExtras), chainexport.TransformContext{})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, uint64(7), got.LedgerNumber)
}

func TestTransformTransactionLedgerFromContext(t *testing.T) {
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(testTransactionPayload("7", "0xtx", "1")), &raw))
	delete(raw, "ledger")
	data, err := json.Marshal(raw)
	require.NoError(t, err)

	tx, err := TransformTransaction(gjson.ParseBytes(data), chainexport.WithBlockNumber(9))
	require.NoError(t, err)
	assert.Equal(t, uint64(9), tx.LedgerNumber)

	_, err = TransformTransaction(gjson.ParseBytes(data), chainexport.TransformContext{})
	var malformed *chainexport.MalformedInputError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "ledger_number", malformed.Field)
}

func TestTransformDispatch(t *testing.T) {
	rec, err := Transform(chainexport.KindLedger, gjson.Parse(ledgerPayload),
		chainexport.TransformContext{})
	require.NoError(t, err)
	assert.Equal(t, "ledger", rec.Type())

	_, err = Transform(chainexport.KindBlock, gjson.Parse(ledgerPayload),
		chainexport.TransformContext{})
	assert.ErrorIs(t, err, chainexport.ErrUnknownEntityKind)
}
