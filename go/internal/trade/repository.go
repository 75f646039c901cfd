package trade

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/saltgames/tabletop/go/internal/models"
)

// MemoryRepository keeps all trade offers in process memory. Status
// transitions are serialized per record: ResolveTrade holds the record's own
// mutex for the whole check-transfer-commit sequence, so two racing
// resolutions on the same id cannot both observe a pending status.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*record
	seq     uint64
}

type record struct {
	mu    sync.Mutex
	seq   uint64
	offer models.TradeOffer
}

// NewMemoryRepository creates an empty in-memory trade repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[uuid.UUID]*record),
	}
}

// InsertTrade stores a new trade offer.
func (r *MemoryRepository) InsertTrade(ctx context.Context, offer models.TradeOffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.records[offer.ID] = &record{seq: r.seq, offer: offer}
	return nil
}

// GetTrade returns a copy of the trade offer with the given id.
func (r *MemoryRepository) GetTrade(ctx context.Context, id uuid.UUID) (*models.TradeOffer, error) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	rec.mu.Lock()
	offer := rec.offer
	rec.mu.Unlock()
	return &offer, nil
}

// ListTrades returns all trade offers ordered newest-first. Each record is
// copied under its own mutex, so a half-applied transition is never visible.
func (r *MemoryRepository) ListTrades(ctx context.Context) ([]models.TradeOffer, error) {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	type entry struct {
		seq   uint64
		offer models.TradeOffer
	}
	entries := make([]entry, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		entries = append(entries, entry{seq: rec.seq, offer: rec.offer})
		rec.mu.Unlock()
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].offer.CreatedAt.Equal(entries[j].offer.CreatedAt) {
			return entries[i].offer.CreatedAt.After(entries[j].offer.CreatedAt)
		}
		return entries[i].seq > entries[j].seq
	})

	offers := make([]models.TradeOffer, len(entries))
	for i, e := range entries {
		offers[i] = e.offer
	}
	return offers, nil
}

// CountPending returns the number of trades still awaiting resolution.
func (r *MemoryRepository) CountPending(ctx context.Context) (int, error) {
	offers, err := r.ListTrades(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range offers {
		if o.Status == models.TradeStatusPending {
			n++
		}
	}
	return n, nil
}

// ResolveTrade transitions a pending trade to the given terminal status.
// commit runs inside the record's critical section before the status flip;
// if it returns an error the trade is left pending and the error is
// propagated. Exactly one of two concurrent resolutions can succeed.
func (r *MemoryRepository) ResolveTrade(ctx context.Context, id uuid.UUID, decision models.TradeStatus, resolvedAt time.Time, commit func(models.TradeOffer) error) (*models.TradeOffer, error) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.offer.Status.Terminal() {
		return nil, ErrAlreadyResolved
	}
	if commit != nil {
		if err := commit(rec.offer); err != nil {
			return nil, err
		}
	}

	rec.offer.Status = decision
	rec.offer.ResolvedAt = &resolvedAt
	offer := rec.offer
	return &offer, nil
}
