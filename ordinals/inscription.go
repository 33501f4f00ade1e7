package ordinals

import (
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/coinbase/chainexport"
	"github.com/pkg/errors"
)

// Inscription is the canonical record of an ordinals inscription, positioned
// at the height of the block it was inscribed in.
type Inscription struct {
	InscriptionID  string  `json:"inscription_id"`
	Number         int64   `json:"number"`
	GenesisHeight  uint64  `json:"genesis_height"`
	GenesisTxID    string  `json:"genesis_tx_id"`
	GenesisHash    *string `json:"genesis_hash"`
	GenesisAddress *string `json:"genesis_address"`
	Address        *string `json:"address"`
	GenesisFee     *int64  `json:"genesis_fee"`
	OutputValue    *int64  `json:"output_value"`
	Location       *string `json:"location"`
	Output         *string `json:"output"`
	SatOrdinal     *string `json:"sat_ordinal"`
	ContentType    *string `json:"content_type"`
	ContentLength  *int64  `json:"content_length"`
	CurseType      *string `json:"curse_type"`
	Charms         *string `json:"charms"`
	Timestamp      *int64  `json:"timestamp"`
}

func (i *Inscription) Type() string     { return "inscription" }
func (i *Inscription) Position() uint64 { return i.GenesisHeight }
func (i *Inscription) Key() string      { return i.InscriptionID }

func (i *Inscription) MarshalJSON() ([]byte, error) {
	type inscription Inscription
	return chainexport.MarshalTagged(i.Type(), (*inscription)(i))
}

// Schema names the API an inscription payload was read from. The two APIs
// describe the same inscription with different key names and timestamp units.
type Schema int

const (
	// SchemaOrd is the JSON served by an ord server's /inscription endpoint.
	SchemaOrd Schema = iota

	// SchemaHiro is the JSON served by the Hiro Ordinals API.
	SchemaHiro
)

func (s Schema) String() string {
	switch s {
	case SchemaOrd:
		return "ord"
	case SchemaHiro:
		return "hiro"
	default:
		return "unknown"
	}
}

var schemaRenames = map[Schema]chainexport.RenameTable{
	SchemaOrd: {
		"id":       "inscription_id",
		"height":   "genesis_height",
		"value":    "output_value",
		"fee":      "genesis_fee",
		"satpoint": "location",
		"sat":      "sat_ordinal",
	},
	SchemaHiro: {
		"id":                   "inscription_id",
		"genesis_block_height": "genesis_height",
		"genesis_block_hash":   "genesis_hash",
		"value":                "output_value",
	},
}

// Transform converts raw into the record for kind. Ordinals only produces
// inscriptions.
func (s Schema) Transform(kind chainexport.EntityKind, raw chainexport.RawPayload,
	_ chainexport.TransformContext) (chainexport.Record, error) {

	if kind != chainexport.KindInscription {
		return nil, errors.Wrapf(chainexport.ErrUnknownEntityKind, "ordinals %q", kind)
	}
	ins, err := TransformInscription(raw, s)
	if err != nil {
		return nil, err
	}
	return ins, nil
}

// TransformInscription converts an inscription payload read with schema into
// an Inscription.
func TransformInscription(raw chainexport.RawPayload, schema Schema) (*Inscription, error) {
	renames, ok := schemaRenames[schema]
	if !ok {
		return nil, errors.Errorf("unknown inscription schema %d", schema)
	}
	p, err := chainexport.Project(raw, renames)
	if err != nil {
		return nil, err
	}

	var ins Inscription
	if ins.InscriptionID, err = p.RequireString("inscription_id"); err != nil {
		return nil, err
	}
	if ins.GenesisTxID, err = genesisTxID(ins.InscriptionID); err != nil {
		return nil, chainexport.NewMalformedInputError(p.Path("inscription_id"),
			"is not an inscription id", err)
	}
	if ins.Number, err = p.RequireInt("number"); err != nil {
		return nil, err
	}
	if ins.GenesisHeight, err = p.RequireUint("genesis_height"); err != nil {
		return nil, err
	}

	if ins.GenesisHash = p.OptionalString("genesis_hash"); ins.GenesisHash != nil {
		if err := checkHash(*ins.GenesisHash); err != nil {
			return nil, chainexport.NewMalformedInputError(p.Path("genesis_hash"),
				"is not a block hash", err)
		}
	}
	ins.GenesisAddress = p.OptionalString("genesis_address")
	ins.Address = p.OptionalString("address")
	ins.Location = p.OptionalString("location")
	ins.Output = p.OptionalString("output")
	ins.SatOrdinal = p.OptionalString("sat_ordinal")
	ins.ContentType = p.OptionalString("content_type")
	ins.CurseType = p.OptionalString("curse_type")
	ins.Charms = p.OptionalString("charms")
	if ins.GenesisFee, err = p.OptionalInt("genesis_fee"); err != nil {
		return nil, err
	}
	if ins.OutputValue, err = p.OptionalInt("output_value"); err != nil {
		return nil, err
	}
	if ins.ContentLength, err = p.OptionalInt("content_length"); err != nil {
		return nil, err
	}

	switch schema {
	case SchemaHiro:
		millis, err := p.OptionalInt("genesis_timestamp")
		if err != nil {
			return nil, err
		}
		if millis != nil {
			secs := chainexport.MillisToSeconds(*millis)
			ins.Timestamp = &secs
		}
	case SchemaOrd:
		if ins.Timestamp, err = p.OptionalInt("timestamp"); err != nil {
			return nil, err
		}
	}
	return &ins, nil
}

// genesisTxID validates an inscription id of the form <txid>i<index> and
// returns its txid.
func genesisTxID(id string) (string, error) {
	sep := strings.LastIndexByte(id, 'i')
	if sep < 0 {
		return "", errors.New("missing index separator")
	}
	txid, index := id[:sep], id[sep+1:]
	if err := checkHash(txid); err != nil {
		return "", err
	}
	if _, err := strconv.ParseUint(index, 10, 32); err != nil {
		return "", errors.Wrap(err, "invalid index")
	}
	return txid, nil
}

// checkHash reports whether s is a full-length hex encoded hash.
func checkHash(s string) error {
	if len(s) != chainhash.MaxHashStringSize {
		return errors.Errorf("hash is %d characters, want %d", len(s),
			chainhash.MaxHashStringSize)
	}
	_, err := chainhash.NewHashFromStr(s)
	return err
}
