package hk_test

import (
	ratomic "sync/atomic"
	"time"

	"github.com/biomine3000/routingbroker/internal/hk"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Housekeeper", func() {
	It("fires a registered callback and reschedules it", func() {
		var calls int32
		hk.Reg("counter", func() time.Duration {
			ratomic.AddInt32(&calls, 1)
			return time.Millisecond
		}, time.Millisecond)

		Eventually(func() int32 {
			return ratomic.LoadInt32(&calls)
		}, time.Second, 5*time.Millisecond).Should(BeNumerically(">=", 2))

		hk.Unreg("counter")
	})

	It("stops firing once unregistered", func() {
		var calls int32
		hk.Reg("stoppable", func() time.Duration {
			ratomic.AddInt32(&calls, 1)
			return time.Millisecond
		}, time.Millisecond)

		Eventually(func() int32 { return ratomic.LoadInt32(&calls) }, time.Second, 5*time.Millisecond).
			Should(BeNumerically(">=", 1))

		hk.Unreg("stoppable")
		time.Sleep(20 * time.Millisecond)
		snapshot := ratomic.LoadInt32(&calls)
		time.Sleep(20 * time.Millisecond)
		Expect(ratomic.LoadInt32(&calls)).To(Equal(snapshot))
	})

	It("returning a non-positive interval unregisters the callback", func() {
		var calls int32
		hk.Reg("one-shot", func() time.Duration {
			ratomic.AddInt32(&calls, 1)
			return 0
		}, time.Millisecond)

		Eventually(func() int32 { return ratomic.LoadInt32(&calls) }, time.Second, 5*time.Millisecond).
			Should(Equal(int32(1)))

		time.Sleep(20 * time.Millisecond)
		Expect(ratomic.LoadInt32(&calls)).To(Equal(int32(1)))
	})
})
