package base

import (
	"encoding/json"
	"fmt"
)

// Item is the unit moved between caches, queues and stores.
// BaseID duplicates Base.ID() so queueing layers can route records without
// touching the payload.
type Item struct {
	BaseID string `json:"baseId"`
	Base   Base   `json:"base"`

	size int
}

// NewItem builds an Item from a Base.
func NewItem(b Base) Item {
	return Item{BaseID: b.ID(), Base: b}
}

// NewItemFromJSON builds an Item from a raw JSON record, remembering the
// encoded length as its size.
func NewItemFromJSON(data []byte) (Item, error) {
	b, err := Decode(data)
	if err != nil {
		return Item{}, err
	}
	return Item{BaseID: b.ID(), Base: b, size: len(data)}, nil
}

// Validate checks the BaseID/Base invariant.
func (it Item) Validate() error {
	id := it.Base.ID()
	if id == "" {
		return ErrMissingID
	}
	if it.BaseID != id {
		return fmt.Errorf("%w: %q != %q", ErrIDMismatch, it.BaseID, id)
	}
	return nil
}

// Size returns the approximate resident size of the item in bytes. It is the
// encoded JSON length when known, otherwise a structural estimate.
func (it Item) Size() int {
	if it.size > 0 {
		return it.size
	}
	return len(it.BaseID) + EstimateSize(it.Base)
}

// WithSize returns a copy of it reporting n as its size.
func (it Item) WithSize(n int) Item {
	it.size = n
	return it
}

// MarshalJSON keeps the wire shape stable regardless of unexported fields.
func (it Item) MarshalJSON() ([]byte, error) {
	type wire struct {
		BaseID string `json:"baseId"`
		Base   Base   `json:"base"`
	}
	return json.Marshal(wire{BaseID: it.BaseID, Base: it.Base})
}
