package circuit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// BreakerSuite drives a breaker configured the way the proof oracle guards
// one profile location: five strikes, one good trial closes it.
type BreakerSuite struct {
	suite.Suite
	now     time.Time
	breaker *Breaker
}

func TestBreakerSuite(t *testing.T) {
	suite.Run(t, new(BreakerSuite))
}

func (s *BreakerSuite) SetupTest() {
	s.now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.breaker = New("https://moltbook.com/bots/{username}",
		WithFailureThreshold(5),
		WithSuccessThreshold(1),
		WithCooldown(30*time.Second),
		WithClock(func() time.Time { return s.now }),
	)
}

func (s *BreakerSuite) failTimes(n int) (opened bool) {
	for range n {
		_, change := s.breaker.RecordFailure()
		opened = opened || change.Opened
	}
	return opened
}

func (s *BreakerSuite) TestNewLocationIsTried() {
	s.Equal("https://moltbook.com/bots/{username}", s.breaker.Name())
	s.Equal(StateClosed, s.breaker.State())
	s.True(s.breaker.Allow())
}

func (s *BreakerSuite) TestUnreachableLocationIsSkippedAfterFiveFailures() {
	s.False(s.failTimes(4))
	s.True(s.breaker.Allow(), "four timeouts still leave the location in rotation")

	s.True(s.failTimes(1))
	s.True(s.breaker.IsOpen())
	s.False(s.breaker.Allow())
}

func (s *BreakerSuite) TestMissingProfileCountsAsReachable() {
	s.failTimes(4)
	// A 404 is a definitive answer from a healthy host.
	usePrimary, change := s.breaker.RecordSuccess()
	s.True(usePrimary)
	s.False(change.Closed)

	s.False(s.failTimes(4), "the failure streak restarted")
	s.False(s.breaker.IsOpen())
}

func (s *BreakerSuite) TestTrialAfterCooldown() {
	s.failTimes(5)

	s.now = s.now.Add(29 * time.Second)
	s.False(s.breaker.Allow())

	s.now = s.now.Add(time.Second)
	s.True(s.breaker.Allow(), "trial fetch allowed once the cooldown elapsed")

	usePrimary, change := s.breaker.RecordSuccess()
	s.True(usePrimary)
	s.True(change.Closed, "one good trial closes the breaker")
	s.Equal(StateClosed, s.breaker.State())
	s.True(s.breaker.Allow())
}

func (s *BreakerSuite) TestFailedTrialRestartsCooldown() {
	s.failTimes(5)
	s.now = s.now.Add(30 * time.Second)
	s.Require().True(s.breaker.Allow())

	useFallback, change := s.breaker.RecordFailure()
	s.True(useFallback)
	s.False(change.Opened, "already open, no second transition")
	s.False(s.breaker.Allow())

	s.now = s.now.Add(30 * time.Second)
	s.True(s.breaker.Allow())
}

func (s *BreakerSuite) TestReset() {
	s.failTimes(5)
	s.breaker.Reset()

	s.Equal("closed", s.breaker.State().String())
	s.False(s.failTimes(4))
}

func (s *BreakerSuite) TestConcurrentRecordingOpensOnce() {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.breaker.Allow()
			if _, change := s.breaker.RecordFailure(); change.Opened {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(1, opened)
	s.Equal("open", s.breaker.State().String())
}

func TestDefaultsRequireThreeTrials(t *testing.T) {
	b := New("defaults", WithFailureThreshold(1), WithCooldown(0))
	b.RecordFailure()

	for i := range defaultSuccessThreshold {
		_, change := b.RecordSuccess()
		if i < defaultSuccessThreshold-1 && change.Closed {
			t.Fatalf("closed after %d trial successes", i+1)
		}
		if i == defaultSuccessThreshold-1 && !change.Closed {
			t.Fatal("still open after the default number of trial successes")
		}
	}
}
