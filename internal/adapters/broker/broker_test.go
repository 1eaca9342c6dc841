package broker_test

import (
	"testing"
	"time"

	"github.com/okian/derby/internal/adapters/broker"
	. "github.com/smartystreets/goconvey/convey"
)

func collect(sub *broker.Subscription, n int) []broker.Event {
	out := make([]broker.Event, 0, n)
	timeout := time.After(time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			return out
		}
	}
	return out
}

func TestBroker(t *testing.T) {
	Convey("Given a broker with three subscribers on one topic", t, func() {
		b := broker.New()
		subs := []*broker.Subscription{
			b.Subscribe(broker.TopicCommentary),
			b.Subscribe(broker.TopicCommentary),
			b.Subscribe(broker.TopicCommentary),
		}

		Convey("When a sequence of events is published", func() {
			for i := 0; i < 5; i++ {
				b.Publish(broker.Event{Topic: broker.TopicCommentary, RaceID: int64(i)})
			}

			Convey("Then every subscriber observes the identical sequence", func() {
				for _, sub := range subs {
					got := collect(sub, 5)
					So(len(got), ShouldEqual, 5)
					for i, ev := range got {
						So(ev.RaceID, ShouldEqual, int64(i))
					}
				}
			})
		})

		Convey("When one subscriber unsubscribes", func() {
			subs[1].Unsubscribe()
			b.Publish(broker.Event{Topic: broker.TopicCommentary, RaceID: 99})

			Convey("Then it receives zero further events", func() {
				So(collect(subs[1], 1), ShouldBeEmpty)
			})

			Convey("And the remaining subscribers still receive the event", func() {
				So(collect(subs[0], 1)[0].RaceID, ShouldEqual, int64(99))
				So(collect(subs[2], 1)[0].RaceID, ShouldEqual, int64(99))
			})

			Convey("And the subscriber count drops", func() {
				So(b.SubscriberCount(broker.TopicCommentary), ShouldEqual, 2)
			})
		})

		Convey("When unsubscribe is called twice", func() {
			subs[0].Unsubscribe()
			subs[0].Unsubscribe()

			Convey("Then the second call is a no-op", func() {
				So(b.SubscriberCount(broker.TopicCommentary), ShouldEqual, 2)
			})
		})
	})

	Convey("Given a broker with topic isolation", t, func() {
		b := broker.New()
		frames := b.Subscribe(broker.TopicFrame)
		status := b.Subscribe(broker.TopicStatus)

		Convey("When an event is published on one topic", func() {
			b.Publish(broker.Event{Topic: broker.TopicFrame, RaceID: 1})

			Convey("Then only that topic's subscriber sees it", func() {
				So(len(collect(frames, 1)), ShouldEqual, 1)
				So(collect(status, 1), ShouldBeEmpty)
			})
		})
	})

	Convey("Given a subscriber that never drains", t, func() {
		b := broker.New(broker.WithSubscriberBuffer(1))
		slow := b.Subscribe(broker.TopicFrame)

		Convey("When more events than its buffer are published", func() {
			done := make(chan struct{})
			go func() {
				for i := 0; i < 10; i++ {
					b.Publish(broker.Event{Topic: broker.TopicFrame, RaceID: int64(i)})
				}
				close(done)
			}()

			Convey("Then publishing never blocks and the overflow is dropped", func() {
				select {
				case <-done:
				case <-time.After(time.Second):
					So("publish blocked on a slow subscriber", ShouldBeEmpty)
				}
				slow.Unsubscribe()
				So(len(collect(slow, 10)), ShouldBeLessThanOrEqualTo, 1)
			})
		})
	})

	Convey("Given a subscriber registered after an event was published", t, func() {
		b := broker.New()
		b.Publish(broker.Event{Topic: broker.TopicFinished, RaceID: 1})
		late := b.Subscribe(broker.TopicFinished)

		Convey("Then it never receives the earlier event", func() {
			So(collect(late, 1), ShouldBeEmpty)
		})
	})

	Convey("Given a closed broker", t, func() {
		b := broker.New()
		sub := b.Subscribe(broker.TopicStatus)
		b.Close()

		Convey("Then the subscription channel is closed", func() {
			_, ok := <-sub.C
			So(ok, ShouldBeFalse)
		})

		Convey("And publishes after close are dropped silently", func() {
			b.Publish(broker.Event{Topic: broker.TopicStatus})
			So(b.SubscriberCount(broker.TopicStatus), ShouldEqual, 0)
		})
	})
}
