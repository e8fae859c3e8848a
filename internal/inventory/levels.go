package inventory

import "github.com/Ahmed-Saalah/MarketCore-sub000/internal/events"

const DefaultLowStockThreshold = 5

type alert struct {
	routingKey string
	key        string
	payload    any
}

// levelAlerts reports the edge crossings between two QuantityOnHand values: >0 to <=0 is out
// of stock, >low to (0, low] is low stock. Staying inside a band emits nothing.
func levelAlerts(storeID, productID string, before, after, low int) []alert {
	key := events.StockKey(storeID, productID)
	switch {
	case before > 0 && after <= 0:
		return []alert{{
			routingKey: events.ProductOutOfStock,
			key:        key,
			payload:    events.ProductOutOfStockEvent{StoreID: storeID, ProductID: productID},
		}}
	case before > low && after > 0 && after <= low:
		return []alert{{
			routingKey: events.ProductLowStock,
			key:        key,
			payload:    events.ProductLowStockEvent{StoreID: storeID, ProductID: productID, QuantityOnHand: after},
		}}
	}
	return nil
}
