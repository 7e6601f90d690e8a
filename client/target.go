package client

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Target names the conversation a message goes to: an existing one, or the
// (seller, product) pair of one the server finds or creates.
type Target interface {
	isTarget()
}

type ExistingConversation struct {
	ID int64
}

// NewConversation starts a chat with a seller, optionally about a product.
// ProductID 0 means no product.
type NewConversation struct {
	SellerID  int64
	ProductID int64
}

func (ExistingConversation) isTarget() {}
func (NewConversation) isTarget()      {}

func validTarget(t Target) error {
	switch v := t.(type) {
	case ExistingConversation:
		if v.ID <= 0 {
			return fmt.Errorf("%w: conversation id %d", ErrInvalidTarget, v.ID)
		}
	case NewConversation:
		if v.SellerID <= 0 {
			return fmt.Errorf("%w: seller id %d", ErrInvalidTarget, v.SellerID)
		}
	default:
		return ErrInvalidTarget
	}
	return nil
}

// IDGenerator produces temporary message ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator returns "temp-" followed by a UUIDv7, which sorts by
// creation time.
type UUIDv7Generator struct{}

// Generate returns "temp-" followed by a new UUIDv7.
func (UUIDv7Generator) Generate() string {
	return "temp-" + uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined ids, for tests. It panics when the
// ids run out.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator returns ids in the given order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids used")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
