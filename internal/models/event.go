package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/smartdevs17/vault-event-scanner/pkg/utils"
)

// Event is the stored form of a LogRecord.
type Event struct {
	ID          string                 `json:"id" db:"id"`
	ScanID      string                 `json:"scan_id" db:"scan_id"`
	BlockNumber uint64                 `json:"block_number" db:"block_number"`
	BlockHash   string                 `json:"block_hash" db:"block_hash"`
	TxHash      string                 `json:"tx_hash" db:"tx_hash"`
	TxIndex     uint                   `json:"tx_index" db:"tx_index"`
	LogIndex    uint                   `json:"log_index" db:"log_index"`
	Address     string                 `json:"address" db:"address"`
	EventName   string                 `json:"event_name" db:"event_name"`
	EventSig    string                 `json:"event_signature" db:"event_signature"`
	Data        map[string]interface{} `json:"data" db:"data"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
}

// NewEventFromRecord converts a decoded record into its stored form.
func NewEventFromRecord(scanID string, r *LogRecord, events EventSet) *Event {
	blockHash := r.BlockHash.Hex()
	txHash := r.TxHash.Hex()

	var sig string
	if spec, ok := events.Lookup(r.EventName); ok {
		sig = spec.Topic.Hex()
	}

	return &Event{
		ID:          utils.CreateEventID(blockHash, txHash, r.LogIndex),
		ScanID:      scanID,
		BlockNumber: r.BlockNumber,
		BlockHash:   blockHash,
		TxHash:      txHash,
		TxIndex:     r.TxIndex,
		LogIndex:    r.LogIndex,
		Address:     r.Address.Hex(),
		EventName:   r.EventName,
		EventSig:    sig,
		Data:        ArgsMap(r.Payload),
		CreatedAt:   time.Now().UTC(),
	}
}

// EventFilter for querying events
type EventFilter struct {
	ContractAddress *common.Address `json:"contract_address,omitempty"`
	EventNames      []string        `json:"event_names,omitempty"`
	FromBlock       *uint64         `json:"from_block,omitempty"`
	ToBlock         *uint64         `json:"to_block,omitempty"`
	ScanID          *string         `json:"scan_id,omitempty"`
	Limit           int             `json:"limit,omitempty"`
	Offset          int             `json:"offset,omitempty"`
}
