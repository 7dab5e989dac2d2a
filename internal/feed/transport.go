package feed

import "context"

// Category is one of the independent feed connections.
type Category string

const (
	CategoryMarket Category = "market"
	CategoryUser   Category = "user"
	CategoryLive   Category = "live_data"
)

// Subscription describes one feed connection: where to dial and what to send after connecting.
type Subscription struct {
	Category Category
	URL      string
	Message  any // JSON-encoded and written after every (re)connect
}

// Transport streams raw frames for a subscription until ctx ends.
// Implementations reconnect on their own; Stream returns only when ctx is done
// or the subscription can never succeed.
type Transport interface {
	Stream(ctx context.Context, sub Subscription, deliver func([]byte)) error
}
