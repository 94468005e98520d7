package scanner

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/smartdevs17/vault-event-scanner/internal/models"
	"github.com/smartdevs17/vault-event-scanner/pkg/utils"
)

// Decoder turns raw logs into typed records.
type Decoder struct {
	abi     abi.ABI
	indexed map[string]abi.Arguments
}

// NewDecoder parses the vault ABI and checks that every EventSpec in events has a
// matching ABI entry with the same topic.
func NewDecoder(events models.EventSet) (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(models.VaultEventsABI))
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeConfiguration, "Failed to parse event ABI", err)
	}

	d := &Decoder{abi: parsed, indexed: make(map[string]abi.Arguments)}
	for _, spec := range events.Specs() {
		event, ok := parsed.Events[spec.Name]
		if !ok {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Event missing from ABI", spec.Name)
		}
		if event.ID != spec.Topic {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Event topic mismatch",
				fmt.Sprintf("%s: abi %s, spec %s", spec.Name, event.ID.Hex(), spec.Topic.Hex()))
		}

		var indexed abi.Arguments
		for _, input := range event.Inputs {
			if input.Indexed {
				indexed = append(indexed, input)
			}
		}
		d.indexed[spec.Name] = indexed
	}
	return d, nil
}

// Decode decodes log as an occurrence of spec.
func (d *Decoder) Decode(spec models.EventSpec, log types.Log) (*models.LogRecord, error) {
	if len(log.Topics) == 0 || log.Topics[0] != spec.Topic {
		return nil, utils.NewAppError(utils.ErrCodeDecode, "Unexpected event topic",
			fmt.Sprintf("want %s for %s", spec.Topic.Hex(), spec.Name))
	}

	indexed, ok := d.indexed[spec.Name]
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeDecode, "Event not registered with decoder", spec.Name)
	}
	if len(log.Topics)-1 != len(indexed) {
		return nil, utils.NewAppError(utils.ErrCodeDecode, "Unexpected topic count",
			fmt.Sprintf("%s: got %d indexed, want %d", spec.Name, len(log.Topics)-1, len(indexed)))
	}

	payload := spec.NewPayload()
	if err := d.abi.UnpackIntoInterface(payload, spec.Name, log.Data); err != nil {
		return nil, utils.WrapError(utils.ErrCodeDecode, "Failed to unpack event data", err)
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopics(payload, indexed, log.Topics[1:]); err != nil {
			return nil, utils.WrapError(utils.ErrCodeDecode, "Failed to parse indexed topics", err)
		}
	}

	return &models.LogRecord{
		EventName:   spec.Name,
		Payload:     payload,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash,
		TxHash:      log.TxHash,
		TxIndex:     log.TxIndex,
		LogIndex:    log.Index,
		Address:     log.Address,
	}, nil
}
