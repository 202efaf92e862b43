package healthgate_test

import (
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/goleak"

	healthgate "github.com/JohnPlummer/jp-go-healthgate"
)

var _ = Describe("CircuitBreakerRegistry", func() {
	var registry *healthgate.CircuitBreakerRegistry

	failN := func(service string, n int) {
		for range n {
			Expect(registry.ShouldAttempt(service)).To(BeTrue())
			registry.RecordResult(service, false)
		}
	}

	BeforeEach(func() {
		registry = healthgate.NewCircuitBreakerRegistry(
			healthgate.WithFailureThreshold(5),
			healthgate.WithRecoveryTimeout(100*time.Millisecond),
			healthgate.WithRegistryLogger(discardLogger()),
		)
	})

	Describe("Default Configuration", func() {
		It("should trip after 5 failures and recover after 30s", func() {
			config := healthgate.DefaultRegistryConfig()
			Expect(config.FailureThreshold).To(Equal(uint32(5)))
			Expect(config.RecoveryTimeout).To(Equal(30 * time.Second))
		})

		It("should replace a zero threshold with the default", func() {
			registry = healthgate.NewCircuitBreakerRegistry(
				healthgate.WithFailureThreshold(0),
				healthgate.WithRegistryLogger(discardLogger()),
			)
			for range 4 {
				Expect(registry.ShouldAttempt("auth")).To(BeTrue())
				registry.RecordResult("auth", false)
			}
			Expect(registry.Snapshot("auth").State).To(Equal(healthgate.StateClosed))
		})
	})

	Describe("Snapshot", func() {
		It("should report an unknown service as closed without creating a breaker", func() {
			snap := registry.Snapshot("never-seen")
			Expect(snap.State).To(Equal(healthgate.StateClosed))
			Expect(snap.FailureCount).To(BeZero())
			Expect(snap.LastFailure).To(BeNil())
			Expect(snap.LastSuccess).To(BeNil())
			Expect(registry.Services()).To(BeEmpty())
		})

		It("should record failure and success times", func() {
			Expect(registry.ShouldAttempt("auth")).To(BeTrue())
			registry.RecordResult("auth", false)
			snap := registry.Snapshot("auth")
			Expect(snap.LastFailure).NotTo(BeNil())
			Expect(snap.LastSuccess).To(BeNil())
			Expect(snap.FailureCount).To(Equal(uint32(1)))

			Expect(registry.ShouldAttempt("auth")).To(BeTrue())
			registry.RecordResult("auth", true)
			snap = registry.Snapshot("auth")
			Expect(snap.LastSuccess).NotTo(BeNil())
			Expect(snap.FailureCount).To(BeZero())
		})
	})

	Describe("State Transitions", func() {
		Context("Closed to Open", func() {
			It("should stay closed below the threshold", func() {
				failN("auth", 4)
				snap := registry.Snapshot("auth")
				Expect(snap.State).To(Equal(healthgate.StateClosed))
				Expect(snap.FailureCount).To(Equal(uint32(4)))
				Expect(registry.ShouldAttempt("auth")).To(BeTrue())
			})

			It("should open on the fifth consecutive failure", func() {
				failN("auth", 5)
				snap := registry.Snapshot("auth")
				Expect(snap.State).To(Equal(healthgate.StateOpen))
				Expect(snap.FailureCount).To(Equal(uint32(5)))
				Expect(registry.ShouldAttempt("auth")).To(BeFalse())
			})

			It("should reset the failure count on success", func() {
				failN("auth", 4)
				Expect(registry.ShouldAttempt("auth")).To(BeTrue())
				registry.RecordResult("auth", true)
				failN("auth", 4)

				snap := registry.Snapshot("auth")
				Expect(snap.State).To(Equal(healthgate.StateClosed))
				Expect(snap.FailureCount).To(Equal(uint32(4)))
			})
		})

		Context("Open to Half-Open", func() {
			BeforeEach(func() {
				failN("auth", 5)
			})

			It("should reject attempts before the recovery timeout", func() {
				Expect(registry.ShouldAttempt("auth")).To(BeFalse())
				Expect(registry.Snapshot("auth").State).To(Equal(healthgate.StateOpen))
			})

			It("should still report open after the recovery timeout until an attempt is made", func() {
				var transitions int
				registry = healthgate.NewCircuitBreakerRegistry(
					healthgate.WithFailureThreshold(1),
					healthgate.WithRecoveryTimeout(20*time.Millisecond),
					healthgate.WithRegistryLogger(discardLogger()),
					healthgate.WithStateChangeHandler(func(string, healthgate.BreakerState, healthgate.BreakerState) {
						transitions++
					}),
				)
				failN("auth", 1)
				opened := registry.Snapshot("auth").LastStateChange
				time.Sleep(40 * time.Millisecond)

				snap := registry.Snapshot("auth")
				Expect(snap.State).To(Equal(healthgate.StateOpen))
				Expect(snap.LastStateChange).To(Equal(opened))
				Expect(registry.Snapshots()["auth"].State).To(Equal(healthgate.StateOpen))
				Expect(transitions).To(Equal(1))

				Expect(registry.ShouldAttempt("auth")).To(BeTrue())
				Expect(registry.Snapshot("auth").State).To(Equal(healthgate.StateHalfOpen))
				Expect(transitions).To(Equal(2))
			})

			It("should admit exactly one trial after the recovery timeout", func() {
				time.Sleep(150 * time.Millisecond)

				Expect(registry.ShouldAttempt("auth")).To(BeTrue())
				Expect(registry.Snapshot("auth").State).To(Equal(healthgate.StateHalfOpen))
				Expect(registry.ShouldAttempt("auth")).To(BeFalse())
			})

			It("should close after a successful trial", func() {
				time.Sleep(150 * time.Millisecond)

				Expect(registry.ShouldAttempt("auth")).To(BeTrue())
				registry.RecordResult("auth", true)

				snap := registry.Snapshot("auth")
				Expect(snap.State).To(Equal(healthgate.StateClosed))
				Expect(snap.FailureCount).To(BeZero())
				Expect(registry.ShouldAttempt("auth")).To(BeTrue())
			})

			It("should reopen after a failed trial", func() {
				time.Sleep(150 * time.Millisecond)

				Expect(registry.ShouldAttempt("auth")).To(BeTrue())
				registry.RecordResult("auth", false)

				Expect(registry.Snapshot("auth").State).To(Equal(healthgate.StateOpen))
				Expect(registry.ShouldAttempt("auth")).To(BeFalse())
			})
		})
	})

	Describe("Service Isolation", func() {
		It("should keep one breaker per service", func() {
			failN("auth", 5)

			Expect(registry.ShouldAttempt("auth")).To(BeFalse())
			Expect(registry.ShouldAttempt("billing")).To(BeTrue())
			Expect(registry.Snapshot("billing").State).To(Equal(healthgate.StateClosed))
			Expect(registry.Services()).To(Equal([]string{"auth", "billing"}))
			Expect(registry.Snapshots()).To(HaveKey("auth"))
			Expect(registry.Snapshots()).To(HaveKey("billing"))
		})
	})

	Describe("RecordResult without admission", func() {
		It("should count the result against a closed breaker", func() {
			registry.RecordResult("auth", false)
			Expect(registry.Snapshot("auth").FailureCount).To(Equal(uint32(1)))
		})

		It("should drop the result when the breaker is open", func() {
			failN("auth", 5)
			registry.RecordResult("auth", false)
			Expect(registry.Snapshot("auth").FailureCount).To(Equal(uint32(5)))
		})
	})

	Describe("State Change Handler", func() {
		It("should report every transition", func() {
			var mu sync.Mutex
			var transitions []string

			registry = healthgate.NewCircuitBreakerRegistry(
				healthgate.WithFailureThreshold(2),
				healthgate.WithRecoveryTimeout(50*time.Millisecond),
				healthgate.WithRegistryLogger(discardLogger()),
				healthgate.WithStateChangeHandler(func(service string, from, to healthgate.BreakerState) {
					mu.Lock()
					defer mu.Unlock()
					transitions = append(transitions, service+":"+from.String()+"->"+to.String())
				}),
			)

			failN("auth", 2)
			time.Sleep(80 * time.Millisecond)
			Expect(registry.ShouldAttempt("auth")).To(BeTrue())
			registry.RecordResult("auth", true)

			mu.Lock()
			defer mu.Unlock()
			Expect(transitions).To(Equal([]string{
				"auth:closed->open",
				"auth:open->half-open",
				"auth:half-open->closed",
			}))
		})
	})

	Describe("Concurrency", func() {
		It("should be safe for concurrent use", func() {
			defer goleak.VerifyNone(GinkgoT(), goleak.IgnoreCurrent())

			var attempts atomic.Int64
			var wg sync.WaitGroup
			for i := range 20 {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					service := []string{"auth", "billing", "search"}[i%3]
					for j := range 50 {
						if registry.ShouldAttempt(service) {
							attempts.Add(1)
							registry.RecordResult(service, j%2 == 0)
						}
						_ = registry.Snapshot(service)
						_ = registry.Snapshots()
					}
				}(i)
			}
			wg.Wait()

			Expect(attempts.Load()).To(BeNumerically(">", 0))
			Expect(registry.Services()).To(ConsistOf("auth", "billing", "search"))
		})
	})

	Describe("Concurrent half-open admission", func() {
		It("should admit exactly one of many concurrent attempts", func() {
			failN("auth", 5)
			time.Sleep(150 * time.Millisecond)

			var admitted atomic.Int32
			var wg sync.WaitGroup
			start := make(chan struct{})
			for range 32 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					if registry.ShouldAttempt("auth") {
						admitted.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()

			Expect(admitted.Load()).To(Equal(int32(1)))
			Expect(registry.Snapshot("auth").State).To(Equal(healthgate.StateHalfOpen))
		})
	})

	Describe("BreakerState", func() {
		It("should render the reported state names", func() {
			Expect(healthgate.StateClosed.String()).To(Equal("closed"))
			Expect(healthgate.StateHalfOpen.String()).To(Equal("half-open"))
			Expect(healthgate.StateOpen.String()).To(Equal("open"))
		})
	})
})
