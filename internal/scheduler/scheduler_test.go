package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedule_RejectsInvalidCronExpression(t *testing.T) {
	s := New()
	err := s.Schedule("bad-job", "not a cron expression", func() {})
	require.Error(t, err)
}

func TestSchedule_RunsJobAndSurvivesPanic(t *testing.T) {
	s := New()
	ran := make(chan struct{}, 1)

	err := s.Schedule("panicky-job", "@every 10ms", func() {
		defer func() { ran <- struct{}{} }()
		panic("boom")
	})
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
}
