package integration

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"waitnotify-go/internal/domain"
	"waitnotify-go/internal/events"
)

var _ = Describe("Wait/Notify join", func() {
	var (
		h   *harness
		ctx context.Context
	)

	BeforeEach(func() {
		h = newHarness()
		ctx = context.Background()
	})

	AfterEach(func() {
		h.stop()
	})

	Context("when every correlation id completes", func() {
		It("fires the callback exactly once with every response", func() {
			id, err := h.engine.WaitForAll(ctx, time.Minute, record("join"), "a", "b", "c")
			Expect(err).NotTo(HaveOccurred())
			rec := h.recorders.get("join")

			_, err = h.engine.Notify(ctx, "a", payload("R1"))
			Expect(err).NotTo(HaveOccurred())
			_, err = h.engine.Notify(ctx, "b", payload("R2"))
			Expect(err).NotTo(HaveOccurred())

			Consistently(rec.count, 200*time.Millisecond).Should(BeZero())

			_, err = h.engine.Notify(ctx, "c", payload("R3"))
			Expect(err).NotTo(HaveOccurred())

			Eventually(rec.count).Should(Equal(1))
			Consistently(rec.count, 100*time.Millisecond).Should(Equal(1))

			got := rec.last()
			Expect(got.Path).To(Equal("complete"))
			Expect(got.Responses).To(HaveLen(3))
			Expect(string(got.Responses["a"].Payload)).To(MatchJSON(`"R1"`))
			Expect(string(got.Responses["b"].Payload)).To(MatchJSON(`"R2"`))
			Expect(string(got.Responses["c"].Payload)).To(MatchJSON(`"R3"`))

			Eventually(h.status(id)).Should(Equal(domain.WaitStatusSuccess))
			Eventually(h.outstanding(id)).Should(BeZero())
		})
	})

	DescribeTable("completion order",
		func(order ...string) {
			_, err := h.engine.WaitForAll(ctx, 0, record("order"), "x", "y", "z")
			Expect(err).NotTo(HaveOccurred())

			for _, id := range order {
				_, err := h.engine.Notify(ctx, id, payload("done-"+id))
				Expect(err).NotTo(HaveOccurred())
			}

			rec := h.recorders.get("order")
			Eventually(rec.count).Should(Equal(1))
			got := rec.last().Responses
			for _, id := range []string{"x", "y", "z"} {
				Expect(string(got[id].Payload)).To(MatchJSON(string(payload("done-" + id))))
			}
		},
		Entry("in order", "x", "y", "z"),
		Entry("reversed", "z", "y", "x"),
		Entry("interleaved", "y", "z", "x"),
	)

	Context("when only some correlation ids complete", func() {
		It("leaves the wait instance new", func() {
			id, err := h.engine.WaitForAll(ctx, 0, record("partial"), "a", "b", "c")
			Expect(err).NotTo(HaveOccurred())

			_, _ = h.engine.Notify(ctx, "a", payload(1))
			_, _ = h.engine.Notify(ctx, "c", payload(3))

			Consistently(h.recorders.get("partial").count, 200*time.Millisecond).Should(BeZero())
			Expect(h.status(id)()).To(Equal(domain.WaitStatusNew))

			view, err := h.engine.GetWait(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Outstanding).To(ConsistOf("a", "b", "c"))
		})
	})

	Context("when an event is delivered twice", func() {
		It("fires once", func() {
			id, err := h.engine.WaitForAll(ctx, 0, record("dup"), "a")
			Expect(err).NotTo(HaveOccurred())
			_, _ = h.engine.Notify(ctx, "a", payload(1))

			rec := h.recorders.get("dup")
			Eventually(rec.count).Should(Equal(1))

			publisher := events.NewPublisher(h.queue)
			event := &domain.NotifyEvent{WaitInstanceID: id, CorrelationIDs: []string{"a"}}
			Expect(publisher.Publish(ctx, events.SourceNotifier, event)).To(Succeed())
			Expect(publisher.Publish(ctx, events.SourceNotifier, event)).To(Succeed())

			Consistently(rec.count, 200*time.Millisecond).Should(Equal(1))
		})
	})

	Context("when one correlation id completes with an error", func() {
		It("takes the error path with every response", func() {
			id, err := h.engine.WaitForAll(ctx, 0, record("err"), "a", "b", "c")
			Expect(err).NotTo(HaveOccurred())

			_, _ = h.engine.Notify(ctx, "a", payload("ok"))
			_, _ = h.engine.NotifyError(ctx, "b", payload("disk full"))
			_, _ = h.engine.Notify(ctx, "c", payload("ok"))

			rec := h.recorders.get("err")
			Eventually(rec.count).Should(Equal(1))

			got := rec.last()
			Expect(got.Path).To(Equal("error"))
			Expect(got.Responses).To(HaveLen(3))
			Expect(got.Responses["b"].Error).To(BeTrue())
			Expect(got.Responses["a"].Error).To(BeFalse())

			Eventually(h.status(id)).Should(Equal(domain.WaitStatusError))
		})
	})

	Context("when the final event is lost", func() {
		It("is recovered by the notifier sweep", func() {
			id, err := h.engine.WaitForAll(ctx, 0, record("lost"), "a", "b")
			Expect(err).NotTo(HaveOccurred())
			_, _ = h.engine.Notify(ctx, "a", payload(1))

			h.dropping.drop.Store(true)
			_, err = h.engine.Notify(ctx, "b", payload(2))
			Expect(err).NotTo(HaveOccurred())
			h.dropping.drop.Store(false)

			rec := h.recorders.get("lost")
			Consistently(rec.count, 200*time.Millisecond).Should(BeZero())

			report, err := h.notifier.Sweep(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Published).To(Equal(1))

			Eventually(rec.count).Should(Equal(1))
			Eventually(h.status(id)).Should(Equal(domain.WaitStatusSuccess))
		})
	})

	Context("when responses arrive before registration", func() {
		It("fires without waiting for the sweep", func() {
			_, _ = h.engine.Notify(ctx, "early-1", payload(1))
			_, _ = h.engine.Notify(ctx, "early-2", payload(2))

			_, err := h.engine.WaitForAll(ctx, 0, record("early"), "early-1", "early-2")
			Expect(err).NotTo(HaveOccurred())

			Eventually(h.recorders.get("early").count).Should(Equal(1))
		})
	})

	Context("when two waits share a correlation id", func() {
		It("satisfies both and reaps the response only after both consumed it", func() {
			first, err := h.engine.WaitForAll(ctx, 0, record("first"), "X")
			Expect(err).NotTo(HaveOccurred())
			second, err := h.engine.WaitForAll(ctx, 0, record("second"), "X", "Y")
			Expect(err).NotTo(HaveOccurred())

			_, _ = h.engine.Notify(ctx, "X", payload("x"))

			Eventually(h.recorders.get("first").count).Should(Equal(1))
			Eventually(h.status(first)).Should(Equal(domain.WaitStatusSuccess))
			Expect(h.status(second)()).To(Equal(domain.WaitStatusNew))

			Eventually(func() []string {
				report, err := h.reaper.Reap(ctx)
				Expect(err).NotTo(HaveOccurred())
				return report.Skipped
			}).Should(ConsistOf("X"))

			_, err = h.engine.GetResponse(ctx, "X")
			Expect(err).NotTo(HaveOccurred(), "X is still referenced by the second wait")

			_, _ = h.engine.Notify(ctx, "Y", payload("y"))

			rec := h.recorders.get("second")
			Eventually(rec.count).Should(Equal(1))
			Expect(string(rec.last().Responses["X"].Payload)).To(MatchJSON(`"x"`))
			Eventually(h.outstanding(second)).Should(BeZero())

			Eventually(func() int {
				_, err := h.reaper.Reap(ctx)
				Expect(err).NotTo(HaveOccurred())
				return h.store.Responses.Len()
			}).Should(BeZero())
		})
	})

	Context("when the callback panics", func() {
		It("records a failure and does not fire again", func() {
			id, err := h.engine.WaitForAll(ctx, 0, panicking("broken"), "a")
			Expect(err).NotTo(HaveOccurred())
			_, _ = h.engine.Notify(ctx, "a", payload(1))

			Eventually(h.status(id)).Should(Equal(domain.WaitStatusError))

			failures, err := h.engine.ListFailures(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(failures).To(HaveLen(1))
			Expect(failures[0].Error).To(ContainSubstring("callback bug"))
			Expect(failures[0].Stack).NotTo(BeEmpty())

			_, err = h.notifier.Sweep(ctx)
			Expect(err).NotTo(HaveOccurred())
			Consistently(h.recorders.get("broken").count, 200*time.Millisecond).Should(Equal(1))
		})
	})

	Context("when a join relays into an outer join", func() {
		It("fires the outer callback with the inner responses nested", func() {
			_, err := h.engine.WaitForAll(ctx, 0, relay("inner-done"), "a", "b")
			Expect(err).NotTo(HaveOccurred())
			_, err = h.engine.WaitForAll(ctx, 0, record("outer"), "inner-done", "c")
			Expect(err).NotTo(HaveOccurred())

			_, _ = h.engine.Notify(ctx, "a", payload(1))
			_, _ = h.engine.Notify(ctx, "b", payload(2))
			_, _ = h.engine.Notify(ctx, "c", payload(3))

			rec := h.recorders.get("outer")
			Eventually(rec.count).Should(Equal(1))

			var inner domain.Responses
			Expect(json.Unmarshal(rec.last().Responses["inner-done"].Payload, &inner)).To(Succeed())
			Expect(inner).To(HaveKey("a"))
			Expect(inner).To(HaveKey("b"))
		})
	})

	Context("when a relay publishes into a full single-slot queue", func() {
		It("keeps consuming and fires every outer join", func() {
			h.stop()
			h = newHarnessWithBuffer(1)

			_, err := h.engine.WaitForAll(ctx, 0, relay("ox"), "i1")
			Expect(err).NotTo(HaveOccurred())
			_, err = h.engine.WaitForAll(ctx, 0, record("outer1"), "ox")
			Expect(err).NotTo(HaveOccurred())
			_, err = h.engine.WaitForAll(ctx, 0, record("outer2"), "ox")
			Expect(err).NotTo(HaveOccurred())

			_, err = h.engine.Notify(ctx, "i1", payload("done"))
			Expect(err).NotTo(HaveOccurred())

			Eventually(h.recorders.get("outer1").count, 5*time.Second).Should(Equal(1))
			Eventually(h.recorders.get("outer2").count, 5*time.Second).Should(Equal(1))
			Eventually(h.queue.Len).Should(BeZero())
		})
	})
})
