package models

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// LogRecord is one decoded event occurrence. Records are not modified after
// decoding.
type LogRecord struct {
	EventName   string
	Payload     Payload
	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	TxIndex     uint
	LogIndex    uint
	Address     common.Address
}

// Args returns the payload arguments in declaration order.
func (r *LogRecord) Args() []Arg {
	if r.Payload == nil {
		return nil
	}
	return r.Payload.Args()
}

type logRecordJSON struct {
	EventName       string                 `json:"event_name"`
	Args            map[string]interface{} `json:"args"`
	BlockNumber     uint64                 `json:"block_number"`
	BlockHash       string                 `json:"block_hash"`
	TransactionHash string                 `json:"transaction_hash"`
	TxIndex         uint                   `json:"tx_index"`
	LogIndex        uint                   `json:"log_index"`
	Address         string                 `json:"address"`
}

func (r *LogRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(logRecordJSON{
		EventName:       r.EventName,
		Args:            ArgsMap(r.Payload),
		BlockNumber:     r.BlockNumber,
		BlockHash:       r.BlockHash.Hex(),
		TransactionHash: r.TxHash.Hex(),
		TxIndex:         r.TxIndex,
		LogIndex:        r.LogIndex,
		Address:         r.Address.Hex(),
	})
}
