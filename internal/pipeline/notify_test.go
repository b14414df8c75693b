package pipeline

import (
	"testing"
	"time"

	"github.com/kanari-network/kanarinode/internal/types"
)

func TestBusPublishGasUpgradeFansOutToSubscribers(t *testing.T) {
	bus := NewBus()
	chA := make(chan GasUpgradeEvent, 1)
	chB := make(chan GasUpgradeEvent, 1)
	bus.SubscribeGasUpgrade(chA)
	bus.SubscribeGasUpgrade(chB)

	ev := GasUpgradeEvent{TxHash: types.HashBytes([]byte("tx")), StateRoot: types.HashBytes([]byte("root"))}
	bus.NotifyGasUpgrade(ev.TxHash, ev.StateRoot)

	select {
	case got := <-chA:
		if got != ev {
			t.Fatalf("chA got %+v, want %+v", got, ev)
		}
	default:
		t.Fatal("chA received nothing")
	}
	select {
	case got := <-chB:
		if got != ev {
			t.Fatalf("chB got %+v, want %+v", got, ev)
		}
	default:
		t.Fatal("chB received nothing")
	}
}

func TestBusPublishGasUpgradeNeverBlocksOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	full := make(chan GasUpgradeEvent) // unbuffered, nobody ever reads
	bus.SubscribeGasUpgrade(full)

	done := make(chan struct{})
	go func() {
		bus.NotifyGasUpgrade(types.Hash{}, types.Hash{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifyGasUpgrade blocked on a full, unread subscriber channel")
	}
}

func TestBusPublishServiceStatusFansOutToSubscribers(t *testing.T) {
	bus := NewBus()
	ch := make(chan ServiceStatusEvent, 1)
	bus.SubscribeServiceStatus(ch)

	bus.PublishServiceStatus(types.ServiceMaintenance, "repair found issues")

	select {
	case got := <-ch:
		if got.Status != types.ServiceMaintenance || got.Reason != "repair found issues" {
			t.Fatalf("got %+v, want maintenance/repair found issues", got)
		}
	default:
		t.Fatal("subscriber received nothing")
	}
}
