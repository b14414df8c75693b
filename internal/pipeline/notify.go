package pipeline

import (
	"sync"

	"github.com/kanari-network/kanarinode/internal/types"
)

// GasUpgradeEvent signals that an execution observed a gas-schedule
// upgrade, per spec.md §4.F step 3 ("publishes a GasUpgrade event so the
// executor and relayer reload gas parameters and native functions").
type GasUpgradeEvent struct {
	TxHash    types.Hash
	StateRoot types.Hash
}

// ServiceStatusEvent carries a service-status transition originating from
// the repair layer (e.g. a revert or a failed consistency check) through
// to the sequencer.
type ServiceStatusEvent struct {
	Status types.ServiceStatus
	Reason string
}

// Bus is the one-way subscription point spec.md §9's REDESIGN FLAGS
// replaces the original actor system's cyclic notify-bus references with:
// a subscriber registers a send capability and the bus never calls back
// into the subscriber's internals, it only ever writes to the channel it
// was handed. Publishes are non-blocking so a slow or absent subscriber
// never stalls the publisher.
type Bus struct {
	mu             sync.Mutex
	gasUpgradeSubs []chan<- GasUpgradeEvent
	statusSubs     []chan<- ServiceStatusEvent
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// SubscribeGasUpgrade registers ch to receive every future GasUpgradeEvent.
func (b *Bus) SubscribeGasUpgrade(ch chan<- GasUpgradeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gasUpgradeSubs = append(b.gasUpgradeSubs, ch)
}

// SubscribeServiceStatus registers ch to receive every future
// ServiceStatusEvent.
func (b *Bus) SubscribeServiceStatus(ch chan<- ServiceStatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusSubs = append(b.statusSubs, ch)
}

// PublishGasUpgrade fans ev out to every gas-upgrade subscriber.
func (b *Bus) PublishGasUpgrade(ev GasUpgradeEvent) {
	b.mu.Lock()
	subs := append([]chan<- GasUpgradeEvent(nil), b.gasUpgradeSubs...)
	b.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// PublishServiceStatus fans a ServiceStatusEvent out to every service-status
// subscriber. It implements executor-independent notifier interfaces (e.g.
// internal/repair's ServiceStatusNotifier) so callers elsewhere in the tree
// can publish without importing this package's concrete types beyond this
// method's signature.
func (b *Bus) PublishServiceStatus(status types.ServiceStatus, reason string) {
	b.mu.Lock()
	subs := append([]chan<- ServiceStatusEvent(nil), b.statusSubs...)
	b.mu.Unlock()
	ev := ServiceStatusEvent{Status: status, Reason: reason}
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// NotifyGasUpgrade implements executor.GasUpgradeNotifier: Execute calls
// this directly instead of importing this package, since internal/pipeline
// already imports internal/executor and the reverse import would cycle.
func (b *Bus) NotifyGasUpgrade(txHash, stateRoot types.Hash) {
	b.PublishGasUpgrade(GasUpgradeEvent{TxHash: txHash, StateRoot: stateRoot})
}
