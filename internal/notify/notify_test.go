package notify

import (
	"testing"

	"studyforge/internal/models"
)

func event(jobID string, pct int) models.ChangeEvent {
	return models.ChangeEvent{JobID: jobID, Status: models.StatusRunning, ProgressPct: pct}
}

func TestSubscribeAndPublish(t *testing.T) {
	b := NewBroker(10)
	defer b.Close()

	ch, cancel := b.Subscribe("job1")
	defer cancel()

	b.Publish(event("job1", 10))
	b.Publish(event("other", 50))

	ev := <-ch
	if ev.JobID != "job1" || ev.ProgressPct != 10 {
		t.Errorf("unexpected event: %+v", ev)
	}

	select {
	case ev := <-ch:
		t.Errorf("received event for another job: %+v", ev)
	default:
	}
}

func TestFirehoseReceivesEverything(t *testing.T) {
	b := NewBroker(10)
	defer b.Close()

	ch, cancel := b.Subscribe(Firehose)
	defer cancel()

	b.Publish(event("job1", 10))
	b.Publish(event("job2", 20))

	if ev := <-ch; ev.JobID != "job1" {
		t.Errorf("first firehose event: %+v", ev)
	}
	if ev := <-ch; ev.JobID != "job2" {
		t.Errorf("second firehose event: %+v", ev)
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	b := NewBroker(1)
	defer b.Close()

	ch, cancel := b.Subscribe("job1")
	defer cancel()

	// Second publish must not block; it is dropped.
	b.Publish(event("job1", 10))
	b.Publish(event("job1", 20))

	if ev := <-ch; ev.ProgressPct != 10 {
		t.Errorf("expected first event to survive, got %+v", ev)
	}
	select {
	case ev := <-ch:
		t.Errorf("dropped event was delivered: %+v", ev)
	default:
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	b := NewBroker(1)
	defer b.Close()

	_, cancel := b.Subscribe("job1")
	cancel()
	cancel()

	if n := b.SubscriberCount("job1"); n != 0 {
		t.Errorf("expected 0 subscribers after cancel, got %d", n)
	}
	// Publishing into a canceled subscription must not panic.
	b.Publish(event("job1", 10))
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := NewBroker(1)
	ch, cancel := b.Subscribe("job1")
	defer cancel()

	b.Close()

	if _, open := <-ch; open {
		t.Error("channel should be closed after broker close")
	}

	// Subscribing after close yields a closed channel.
	ch2, cancel2 := b.Subscribe("job2")
	defer cancel2()
	if _, open := <-ch2; open {
		t.Error("post-close subscription should be closed immediately")
	}
}
