package aptos

import (
	"strconv"

	"github.com/coinbase/chainexport"
)

const (
	blockType       = "block"
	transactionType = "transaction"
)

// Block is the canonical record of an Aptos block. Its transactions are
// carried alongside so that a Source can emit them after the block, but they
// are not part of the block's serialized form.
type Block struct {
	Number       uint64 `json:"number"`
	Hash         string `json:"hash"`
	Timestamp    int64  `json:"timestamp"`
	FirstVersion uint64 `json:"first_version"`
	LastVersion  uint64 `json:"last_version"`

	Transactions []*Transaction `json:"-"`
}

func (b *Block) Type() string     { return blockType }
func (b *Block) Position() uint64 { return b.Number }
func (b *Block) Key() string      { return strconv.FormatUint(b.Number, 10) }

// MarshalJSON encodes the block with a leading "type" key.
func (b *Block) MarshalJSON() ([]byte, error) {
	type block Block
	return chainexport.MarshalTagged(b.Type(), (*block)(b))
}

// Transaction is the canonical record of an Aptos transaction. Optional
// fields are nil when the payload omits them and serialize as null.
type Transaction struct {
	Hash                string   `json:"hash"`
	BlockNumber         uint64   `json:"block_number"`
	StateChangeHash     string   `json:"state_change_hash"`
	EventRootHash       string   `json:"event_root_hash"`
	Version             uint64   `json:"version"`
	GasUsed             uint64   `json:"gas_used"`
	Success             bool     `json:"success"`
	VMStatus            string   `json:"vm_status"`
	AccumulatorRootHash string   `json:"accumulator_root_hash"`
	Changes             []Change `json:"changes"`
	TxType              string   `json:"tx_type"`

	Sender                   *string    `json:"sender"`
	StateCheckpointHash      *string    `json:"state_checkpoint_hash"`
	ID                       *string    `json:"id"`
	Epoch                    *string    `json:"epoch"`
	Round                    *string    `json:"round"`
	PreviousBlockVotesBitvec []int64    `json:"previous_block_votes_bitvec"`
	Proposer                 *string    `json:"proposer"`
	FailedProposerIndices    []int64    `json:"failed_proposer_indices"`
	Timestamp                *int64     `json:"timestamp"`
	MaxGasAmount             *int64     `json:"max_gas_amount"`
	GasUnitPrice             *int64     `json:"gas_unit_price"`
	ExpirationTimestampSecs  *int64     `json:"expiration_timestamp_secs"`
	Payload                  *Payload   `json:"payload"`
	Events                   []Event    `json:"events"`
	Signature                *Signature `json:"signature"`
}

func (t *Transaction) Type() string     { return transactionType }
func (t *Transaction) Position() uint64 { return t.BlockNumber }

// Key returns the ledger version, which is unique per transaction.
func (t *Transaction) Key() string { return strconv.FormatUint(t.Version, 10) }

// MarshalJSON encodes the transaction with a leading "type" key.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	type transaction Transaction
	return chainexport.MarshalTagged(t.Type(), (*transaction)(t))
}

type EventGUID struct {
	CreationNumber int64  `json:"creation_number"`
	AccountAddress string `json:"account_address"`
}

// Event is a Move event emitted by a transaction. Data holds the event body
// in canonical string form.
type Event struct {
	GUID           EventGUID `json:"guid"`
	SequenceNumber int64     `json:"sequence_number"`
	Type           string    `json:"type"`
	Data           string    `json:"data"`
}

// Change is a write set change. Values whose Move type varies between
// resources are kept as canonical strings.
type Change struct {
	Type         string      `json:"type"`
	Address      *string     `json:"address"`
	StateKeyHash string      `json:"state_key_hash"`
	Module       *string     `json:"module"`
	Resource     *string     `json:"resource"`
	Key          *string     `json:"key"`
	Handle       *string     `json:"handle"`
	Value        *string     `json:"value"`
	Data         *ChangeData `json:"data"`
}

type ChangeData struct {
	Type      *string `json:"type"`
	Key       *string `json:"key"`
	KeyType   *string `json:"key_type"`
	Value     *string `json:"value"`
	ValueType *string `json:"value_type"`
	Data      *string `json:"data"`
	Bytecode  *string `json:"bytecode"`
	ABI       *string `json:"abi"`
}

// Payload is the union of every transaction payload variant. Only the fields
// of the variant named by Type are set.
type Payload struct {
	Type               string    `json:"type"`
	Function           *string   `json:"function"`
	TypeArguments      []string  `json:"type_arguments"`
	Arguments          []string  `json:"arguments"`
	Code               *Code     `json:"code"`
	Modules            []string  `json:"modules"`
	MultisigAddress    *string   `json:"multisig_address"`
	TransactionPayload *string   `json:"transaction_payload"`
	WriteSet           *WriteSet `json:"write_set"`
}

type WriteSet struct {
	Type      string   `json:"type"`
	ExecuteAs *string  `json:"execute_as"`
	Script    *Script  `json:"script"`
	Changes   []Change `json:"changes"`
	Events    []Event  `json:"events"`
}

type Script struct {
	Code          *Code    `json:"code"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []string `json:"arguments"`
}

type Code struct {
	Bytecode *string `json:"bytecode"`
	ABI      *ABI    `json:"abi"`
}

// ABI describes a Move function. Some API versions name the result types
// "return" instead of "return_type"; both are read into ReturnType.
type ABI struct {
	Name              *string  `json:"name"`
	Visibility        *string  `json:"visibility"`
	IsEntry           *bool    `json:"is_entry"`
	IsView            *bool    `json:"is_view"`
	GenericTypeParams *string  `json:"generic_type_params"`
	Params            []string `json:"params"`
	ReturnType        []string `json:"return_type"`
}

// Signature covers the ed25519, multi-ed25519, multi-agent and fee payer
// signature variants. Nested signer structures are canonical strings.
type Signature struct {
	Type                     string   `json:"type"`
	PublicKey                *string  `json:"public_key"`
	Signature                *string  `json:"signature"`
	Signatures               []string `json:"signatures"`
	Threshold                *int64   `json:"threshold"`
	Bitmap                   *string  `json:"bitmap"`
	PublicKeys               []string `json:"public_keys"`
	Sender                   *string  `json:"sender"`
	SecondarySignerAddresses []string `json:"secondary_signer_addresses"`
	SecondarySigners         *string  `json:"secondary_signers"`
	FeePayerAddress          *string  `json:"fee_payer_address"`
	FeePayerSigner           *string  `json:"fee_payer_signer"`
}
