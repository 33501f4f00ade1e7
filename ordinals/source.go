package ordinals

import (
	"context"
	"fmt"
	"sort"

	"github.com/coinbase/chainexport"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ChainName identifies ordinals in logs, metrics and sink keys.
const ChainName = "ordinals"

// defaultFetchConcurrency bounds the number of inscriptions an OrdSource
// requests at once for a single block.
const defaultFetchConcurrency = 8

// OrdSource exports the inscriptions of each block by listing the block's
// inscription ids on an ord server and fetching each inscription.
type OrdSource struct {
	client      *OrdClient
	transform   chainexport.TransformFunc
	concurrency int
}

// NewOrdSource returns an OrdSource reading from client.
func NewOrdSource(client *OrdClient) *OrdSource {
	return &OrdSource{
		client:      client,
		transform:   SchemaOrd.Transform,
		concurrency: defaultFetchConcurrency,
	}
}

func (s *OrdSource) Chain() string { return ChainName }

func (s *OrdSource) CurrentHeight(ctx context.Context) (uint64, error) {
	return s.client.BlockHeight(ctx)
}

// FetchPosition returns the inscriptions made in the block at height,
// ordered by inscription number.
func (s *OrdSource) FetchPosition(ctx context.Context, height uint64) ([]chainexport.Record, error) {
	ids, err := s.client.InscriptionIDsByBlock(ctx, height)
	if err != nil {
		return nil, err
	}

	inscriptions := make([]*Inscription, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			raw, err := s.client.InscriptionByID(gctx, id)
			if err != nil {
				return err
			}
			record, err := s.transform(chainexport.KindInscription, raw,
				chainexport.WithBlockNumber(height))
			if err != nil {
				return err
			}
			ins, ok := record.(*Inscription)
			if !ok {
				return errors.Errorf("inscription %s transformed into %T", id, record)
			}
			if ins.GenesisHeight != height {
				return chainexport.NewMalformedInputError("height",
					fmt.Sprintf("of %s is %d, listed in block %d", id,
						ins.GenesisHeight, height), nil)
			}
			inscriptions[i] = ins
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return sortInscriptions(inscriptions), nil
}

// HiroSource exports inscriptions from the Hiro Ordinals API. It serves a
// whole range of blocks with one paginated query.
type HiroSource struct {
	client    *HiroClient
	transform chainexport.TransformFunc
}

// NewHiroSource returns a HiroSource reading from client.
func NewHiroSource(client *HiroClient) *HiroSource {
	return &HiroSource{client: client, transform: SchemaHiro.Transform}
}

func (s *HiroSource) Chain() string { return ChainName }

func (s *HiroSource) CurrentHeight(ctx context.Context) (uint64, error) {
	return s.client.BlockHeight(ctx)
}

// FetchPosition returns the inscriptions made in the block at height.
func (s *HiroSource) FetchPosition(ctx context.Context, height uint64) ([]chainexport.Record, error) {
	return s.FetchRange(ctx, height, height)
}

// FetchRange returns the inscriptions made in blocks start through end,
// ordered by genesis height and then inscription number.
func (s *HiroSource) FetchRange(ctx context.Context, start, end uint64) ([]chainexport.Record, error) {
	raws, err := s.client.InscriptionsByBlocks(ctx, start, end)
	if err != nil {
		return nil, err
	}

	inscriptions := make([]*Inscription, 0, len(raws))
	for _, raw := range raws {
		record, err := s.transform(chainexport.KindInscription, raw,
			chainexport.TransformContext{})
		if err != nil {
			return nil, err
		}
		ins, ok := record.(*Inscription)
		if !ok {
			return nil, errors.Errorf("inscription transformed into %T", record)
		}
		inscriptions = append(inscriptions, ins)
	}
	return sortInscriptions(inscriptions), nil
}

func sortInscriptions(inscriptions []*Inscription) []chainexport.Record {
	sort.SliceStable(inscriptions, func(i, j int) bool {
		a, b := inscriptions[i], inscriptions[j]
		if a.GenesisHeight != b.GenesisHeight {
			return a.GenesisHeight < b.GenesisHeight
		}
		return a.Number < b.Number
	})

	records := make([]chainexport.Record, len(inscriptions))
	for i, ins := range inscriptions {
		records[i] = ins
	}
	return records
}
