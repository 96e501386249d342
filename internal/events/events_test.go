package events

import (
	"testing"
	"time"
)

func transferEvent(eventType EventType, taskID string) *TransferEvent {
	return &TransferEvent{
		BaseEvent: BaseEvent{EventType: eventType, Time: time.Now()},
		TaskID:    taskID,
		TaskType:  "upload",
		Bucket:    "photos",
		Key:       "2024/a.jpg",
	}
}

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventTransferProgress)

	bus.Publish(transferEvent(EventTransferProgress, "task-1"))

	select {
	case received := <-ch:
		ev, ok := received.(*TransferEvent)
		if !ok {
			t.Fatal("Expected TransferEvent")
		}
		if ev.TaskID != "task-1" {
			t.Errorf("Expected task ID 'task-1', got '%s'", ev.TaskID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch1 := bus.Subscribe(EventTransferCompleted)
	ch2 := bus.Subscribe(EventTransferCompleted)

	bus.Publish(transferEvent(EventTransferCompleted, "task-1"))

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(100 * time.Millisecond):
			t.Errorf("Subscriber %d did not receive the event", i+1)
		}
	}
}

func TestEventBus_DifferentEventTypes(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	progressCh := bus.Subscribe(EventTransferProgress)
	statusCh := bus.Subscribe(EventServerStatus)

	bus.Publish(transferEvent(EventTransferProgress, "task-1"))

	select {
	case <-progressCh:
	case <-time.After(100 * time.Millisecond):
		t.Error("Progress subscriber didn't receive event")
	}

	select {
	case <-statusCh:
		t.Error("Status subscriber received wrong event type")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_SubscribeAll(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	allCh := bus.SubscribeAll()

	bus.Publish(transferEvent(EventTransferQueued, "task-1"))
	bus.Publish(&ServerStatusEvent{
		BaseEvent: BaseEvent{EventType: EventServerStatus, Time: time.Now()},
		Status:    "running",
		Port:      43210,
	})

	count := 0
	for i := 0; i < 2; i++ {
		select {
		case <-allCh:
			count++
		case <-time.After(100 * time.Millisecond):
		}
	}

	if count != 2 {
		t.Errorf("Expected to receive 2 events, got %d", count)
	}
}

func TestEventBus_NonBlocking(t *testing.T) {
	bus := NewEventBus(2)
	defer bus.Close()

	ch := bus.Subscribe(EventTransferProgress)

	// Publish past the buffer; excess events must be dropped, not block.
	for i := 0; i < 10; i++ {
		bus.Publish(transferEvent(EventTransferProgress, "task-1"))
	}

	count := 0
drain:
	for {
		select {
		case <-ch:
			count++
		case <-time.After(10 * time.Millisecond):
			break drain
		}
	}

	if count == 0 {
		t.Error("Should have received at least some events")
	}
	if bus.GetDroppedEventCount() == 0 {
		t.Error("Expected dropped events to be counted")
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventTransferFailed)
	bus.Unsubscribe(EventTransferFailed, ch)

	bus.Publish(transferEvent(EventTransferFailed, "task-1"))

	select {
	case <-ch:
		t.Error("Unsubscribed channel received an event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(10)

	ch := bus.Subscribe(EventTransferProgress)

	bus.Close()

	_, ok := <-ch
	if ok {
		t.Error("Channel should be closed after bus.Close()")
	}

	// Publishing after close should not panic.
	bus.Publish(transferEvent(EventTransferProgress, "task-1"))
}
