package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Stock ledger events
	EventBatchReceived     = "stock.batch.received"
	EventBatchDisposed     = "stock.batch.disposed"
	EventMedicineIssued    = "stock.medicine.issued"
	EventBatchAdjusted     = "stock.batch.adjusted"
	EventItemLevelChanged  = "stock.item.level_changed"
	EventIntegrityViolated = "stock.integrity.violation"
	EventIssuanceRejected  = "stock.issuance.rejected"

	// Clinic workflow events consumed by the stock service
	EventIssuanceRequested = "clinic.issuance.requested"
)

// Exchange names
const (
	ExchangeStockEvents  = "stock.events"
	ExchangeClinicEvents = "clinic.events"
)

// Queue names
const (
	QueueStockIssuance = "stock-service.issuance"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Stock Events

// BatchReceivedEvent is published when a delivery lot is recorded
type BatchReceivedEvent struct {
	BatchID         string    `json:"batch_id"`
	ItemID          string    `json:"item_id"`
	Quantity        int       `json:"quantity"`
	ExpirationDate  time.Time `json:"expiration_date"`
	ReceivedBy      string    `json:"received_by,omitempty"`
	OverallQuantity int       `json:"overall_quantity"`
}

// BatchDisposedEvent is published for disposals and issuances
type BatchDisposedEvent struct {
	EntryID           string `json:"entry_id"`
	BatchID           string `json:"batch_id"`
	ItemID            string `json:"item_id"`
	Quantity          int    `json:"quantity"`
	Reason            string `json:"reason"`
	IssuanceReference string `json:"issuance_reference,omitempty"`
	PerformedBy       string `json:"performed_by,omitempty"`
	RemainingBalance  int    `json:"remaining_balance"`
}

// BatchAdjustedEvent is published when a correction is recorded
type BatchAdjustedEvent struct {
	EntryID          string `json:"entry_id"`
	BatchID          string `json:"batch_id"`
	ItemID           string `json:"item_id"`
	Quantity         int    `json:"quantity"`
	Direction        string `json:"direction"`
	Reason           string `json:"reason"`
	PerformedBy      string `json:"performed_by,omitempty"`
	RemainingBalance int    `json:"remaining_balance"`
}

// ItemLevelChangedEvent is published when an item moves between stock-level tiers
type ItemLevelChangedEvent struct {
	ItemID          string `json:"item_id"`
	ProductName     string `json:"product_name"`
	OldLevel        string `json:"old_level"`
	NewLevel        string `json:"new_level"`
	OverallQuantity int    `json:"overall_quantity"`
}

// IntegrityViolationEvent is published by the integrity job
type IntegrityViolationEvent struct {
	Kind     string `json:"kind"`
	BatchID  string `json:"batch_id,omitempty"`
	ItemID   string `json:"item_id,omitempty"`
	Expected int    `json:"expected"`
	Actual   int    `json:"actual"`
}

// Clinic Events

// IssuanceRequestedEvent asks the stock service to issue medicine from a batch
type IssuanceRequestedEvent struct {
	IssuanceReference string `json:"issuance_reference"`
	BatchID           string `json:"batch_id"`
	Quantity          int    `json:"quantity"`
	RequestedBy       string `json:"requested_by,omitempty"`
}

// IssuanceRejectedEvent answers an issuance request that was not fulfilled
type IssuanceRejectedEvent struct {
	IssuanceReference string            `json:"issuance_reference"`
	BatchID           string            `json:"batch_id"`
	Quantity          int               `json:"quantity"`
	Code              string            `json:"code"`
	Message           string            `json:"message"`
	Details           map[string]string `json:"details,omitempty"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.New().String()
}
