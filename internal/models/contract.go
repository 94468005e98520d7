package models

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/smartdevs17/vault-event-scanner/pkg/utils"
)

const (
	EventDeposited    = "Deposited"
	EventWithdrawn    = "Withdrawn"
	EventRewardsAdded = "RewardsAdded"
)

// VaultEventsABI is the ABI fragment of the staking vault events the scanner
// decodes.
const VaultEventsABI = `[
	{"type":"event","name":"Deposited","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"shares","type":"uint256","indexed":false}]},
	{"type":"event","name":"Withdrawn","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"shares","type":"uint256","indexed":false}]},
	{"type":"event","name":"RewardsAdded","anonymous":false,"inputs":[
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"duration","type":"uint256","indexed":false},
		{"name":"newPeriodFinish","type":"uint256","indexed":false}]}
]`

// EventSpec describes one event type to scan for.
type EventSpec struct {
	Name      string
	Signature string
	Topic     common.Hash

	newPayload func() Payload
}

// NewPayload returns an empty payload of the event's concrete type, ready to
// be decoded into.
func (s EventSpec) NewPayload() Payload {
	return s.newPayload()
}

func newEventSpec(name, signature string, newPayload func() Payload) EventSpec {
	return EventSpec{
		Name:       name,
		Signature:  signature,
		Topic:      utils.EventTopic(signature),
		newPayload: newPayload,
	}
}

// EventSet is an immutable, ordered collection of event specs. Fetches are
// issued in set order.
type EventSet struct {
	specs []EventSpec
}

var vaultEvents = EventSet{specs: []EventSpec{
	newEventSpec(EventDeposited, "Deposited(address,uint256,uint256)", func() Payload { return new(Deposited) }),
	newEventSpec(EventWithdrawn, "Withdrawn(address,uint256,uint256)", func() Payload { return new(Withdrawn) }),
	newEventSpec(EventRewardsAdded, "RewardsAdded(uint256,uint256,uint256)", func() Payload { return new(RewardsAdded) }),
}}

// VaultEvents returns the staking vault event set: Deposited, Withdrawn,
// RewardsAdded.
func VaultEvents() EventSet {
	return vaultEvents
}

// Specs returns a copy of the specs in declared order.
func (s EventSet) Specs() []EventSpec {
	out := make([]EventSpec, len(s.specs))
	copy(out, s.specs)
	return out
}

func (s EventSet) Len() int {
	return len(s.specs)
}

// Names returns the event names in declared order.
func (s EventSet) Names() []string {
	names := make([]string, len(s.specs))
	for i, spec := range s.specs {
		names[i] = spec.Name
	}
	return names
}

// Lookup finds an EventSpec by event name.
func (s EventSet) Lookup(name string) (EventSpec, bool) {
	for _, spec := range s.specs {
		if strings.EqualFold(spec.Name, name) {
			return spec, true
		}
	}
	return EventSpec{}, false
}

// Select returns the subset of specs named in names, keeping the set's
// declared order. An empty names list selects everything.
func (s EventSet) Select(names ...string) (EventSet, error) {
	if len(names) == 0 {
		return s, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		spec, ok := s.Lookup(name)
		if !ok {
			return EventSet{}, fmt.Errorf("unknown event %q (known: %s)", name, strings.Join(s.Names(), ", "))
		}
		wanted[spec.Name] = true
	}

	var selected []EventSpec
	for _, spec := range s.specs {
		if wanted[spec.Name] {
			selected = append(selected, spec)
		}
	}
	return EventSet{specs: selected}, nil
}
