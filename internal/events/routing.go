package events

// Routing keys are the wire contract between services. They are fixed strings and must not
// follow Go type renames.
const (
	OrderCreated           = "Order.OrderCreatedEvent"
	ReserveStock           = "Warehouse.ReserveStockCommand"
	StockReserved          = "Warehouse.StockReservedEvent"
	StockReservationFailed = "Warehouse.StockReservationFailedEvent"
	CreatePayment          = "Payment.CreatePaymentCommand"
	PaymentSucceeded       = "Payment.PaymentSucceededEvent"
	PaymentFailed          = "Payment.PaymentFailedEvent"
	OrderCompleted         = "Order.OrderCompletedEvent"
	OrderCanceled          = "Order.OrderCanceledEvent"
	ProductLowStock        = "Warehouse.ProductLowStockEvent"
	ProductOutOfStock      = "Warehouse.ProductOutOfStockEvent"
)

// PartitionKey keeps every message of one order on the same partition/ordering lane.
func PartitionKey(orderID string) string { return orderID }

// StockKey is the ordering lane for stock-level notifications.
func StockKey(storeID, productID string) string { return storeID + ":" + productID }
