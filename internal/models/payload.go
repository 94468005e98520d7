package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Payload is the decoded, event-specific part of a log. The concrete type
// identifies the event.
type Payload interface {
	EventName() string
	Args() []Arg
}

// ArgKind tells presentation code how an argument should be rendered.
type ArgKind int

const (
	KindAddress ArgKind = iota
	KindAmount
	KindDuration
	KindTimestamp
)

// Arg is a single named event argument in declaration order.
type Arg struct {
	Name  string
	Kind  ArgKind
	Value interface{}
}

// Deposited is emitted when a user deposits into the vault.
type Deposited struct {
	User   common.Address
	Amount *big.Int
	Shares *big.Int
}

func (p *Deposited) EventName() string { return EventDeposited }

func (p *Deposited) Args() []Arg {
	return []Arg{
		{Name: "user", Kind: KindAddress, Value: p.User},
		{Name: "amount", Kind: KindAmount, Value: p.Amount},
		{Name: "shares", Kind: KindAmount, Value: p.Shares},
	}
}

// Withdrawn is emitted when a user redeems shares.
type Withdrawn struct {
	User   common.Address
	Amount *big.Int
	Shares *big.Int
}

func (p *Withdrawn) EventName() string { return EventWithdrawn }

func (p *Withdrawn) Args() []Arg {
	return []Arg{
		{Name: "user", Kind: KindAddress, Value: p.User},
		{Name: "amount", Kind: KindAmount, Value: p.Amount},
		{Name: "shares", Kind: KindAmount, Value: p.Shares},
	}
}

// RewardsAdded is emitted when a new reward period is funded.
type RewardsAdded struct {
	Amount          *big.Int
	Duration        *big.Int
	NewPeriodFinish *big.Int
}

func (p *RewardsAdded) EventName() string { return EventRewardsAdded }

func (p *RewardsAdded) Args() []Arg {
	return []Arg{
		{Name: "amount", Kind: KindAmount, Value: p.Amount},
		{Name: "duration", Kind: KindDuration, Value: p.Duration},
		{Name: "newPeriodFinish", Kind: KindTimestamp, Value: p.NewPeriodFinish},
	}
}

// ArgsMap flattens a payload into JSON-friendly values. Integers are kept as
// decimal strings so no precision is lost.
func ArgsMap(p Payload) map[string]interface{} {
	out := make(map[string]interface{})
	if p == nil {
		return out
	}
	for _, arg := range p.Args() {
		out[arg.Name] = convertValue(arg.Value)
	}
	return out
}

func convertValue(value interface{}) interface{} {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return "0"
		}
		return v.String()
	case common.Address:
		return v.Hex()
	case common.Hash:
		return v.Hex()
	default:
		return v
	}
}
