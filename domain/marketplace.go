package domain

// ItemStatus is the availability of a marketplace listing.
type ItemStatus string

const (
	ItemAvailable ItemStatus = "available"
	ItemSold      ItemStatus = "sold"
)

// ValidItemStatus returns true if s is a known listing status.
func ValidItemStatus(s ItemStatus) bool {
	return s == ItemAvailable || s == ItemSold
}

// MarketplaceItem is a peer-to-peer listing.
type MarketplaceItem struct {
	ID           int64      `json:"id"`
	Title        string     `json:"title"`
	Description  *string    `json:"description,omitempty"`
	Price        float64    `json:"price"`
	Category     *string    `json:"category,omitempty"`
	ContactPhone *string    `json:"contact_phone,omitempty"`
	ContactLink  *string    `json:"contact_link,omitempty"`
	ImageURL     *string    `json:"image_url,omitempty"`
	Status       ItemStatus `json:"status"`
	UserID       int64      `json:"user_id"`
}
