package domain

// LineItem is one product-quantity pair in a cart. ID is assigned by
// whichever backing store created the record: the remote store keys records
// by product id, the local store mints a stringified timestamp. The two id
// spaces are not compatible across a backing switch.
type LineItem struct {
	ID        string  `json:"id"`
	ProductID string  `json:"productId"`
	Title     string  `json:"title"`
	Price     float64 `json:"price"`
	Image     string  `json:"image"`
	Quantity  int     `json:"quantity"`
	AddedAt   int64   `json:"addedAt"`
}

// BackingMode says which store is currently authoritative for the cart.
// It is derived from identity presence and never persisted.
type BackingMode int

const (
	BackingUnset BackingMode = iota
	BackingRemote
	BackingLocal
)

func (m BackingMode) String() string {
	switch m {
	case BackingRemote:
		return "remote"
	case BackingLocal:
		return "local"
	default:
		return "unset"
	}
}
