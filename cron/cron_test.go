package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	stackflow "github.com/goliatone/go-stackflow"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestScheduleRunsAndReportsStatus(t *testing.T) {
	scheduler := NewScheduler(WithParser(SecondsParser))
	var count atomic.Int32

	handle, err := scheduler.Schedule(JobConfig{Name: "tick", Expression: "@every 1s"}, func(context.Context) error {
		count.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if status := handle.Status(); status != StatusScheduled {
		t.Fatalf("expected scheduled status, got %s", status)
	}

	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer scheduler.Stop(context.Background())

	waitFor(t, func() bool { return handle.Runs() >= 1 })
	if count.Load() < 1 {
		t.Fatal("expected the job to run")
	}
	if status := handle.Status(); status != StatusIdle && status != StatusRunning {
		t.Fatalf("expected idle status after success, got %s", status)
	}
	if handle.LastRun().IsZero() {
		t.Fatal("expected last run timestamp")
	}
}

func TestScheduleFailureReachesErrorHandler(t *testing.T) {
	failures := make(chan error, 4)
	scheduler := NewScheduler(WithErrorHandler(func(err error) {
		select {
		case failures <- err:
		default:
		}
	}))

	boom := errors.New("boom")
	handle, err := scheduler.Schedule(JobConfig{Name: "broken", Expression: "@every 1s"}, func(context.Context) error {
		return boom
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	scheduler.Start(context.Background())
	defer scheduler.Stop(context.Background())

	select {
	case err := <-failures:
		if !errors.Is(err, boom) {
			t.Fatalf("expected wrapped job error, got %v", err)
		}
		if stackflow.Metadata(err)["job"] != "broken" {
			t.Fatalf("expected job metadata, got %v", stackflow.Metadata(err))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("expected failure report")
	}
	waitFor(t, func() bool { return handle.Status() == StatusFailed })
	if !errors.Is(handle.Err(), boom) {
		t.Fatalf("expected handle error, got %v", handle.Err())
	}
}

func TestCancelStopsFurtherRuns(t *testing.T) {
	scheduler := NewScheduler()
	var count atomic.Int32

	handle, err := scheduler.Schedule(JobConfig{Expression: "@every 1s"}, func(context.Context) error {
		count.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	handle.Cancel()

	select {
	case <-handle.Done():
	case <-time.After(time.Second):
		t.Fatal("expected canceled handle to close done channel")
	}
	if status := handle.Status(); status != StatusCanceled {
		t.Fatalf("expected canceled status, got %s", status)
	}
	if len(scheduler.Handles()) != 0 {
		t.Fatal("expected canceled handle to be removed")
	}

	scheduler.Start(context.Background())
	time.Sleep(1200 * time.Millisecond)
	scheduler.Stop(context.Background())
	if got := count.Load(); got != 0 {
		t.Fatalf("expected zero runs after cancel, got %d", got)
	}
}

func TestStopMarksHandlesStopped(t *testing.T) {
	scheduler := NewScheduler()
	handle, err := scheduler.Schedule(JobConfig{Expression: "@hourly"}, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	scheduler.Start(context.Background())

	if err := scheduler.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	<-handle.Done()
	if status := handle.Status(); status != StatusStopped {
		t.Fatalf("expected stopped status, got %s", status)
	}
}

func TestScheduleValidation(t *testing.T) {
	scheduler := NewScheduler()

	cases := []struct {
		name string
		cfg  JobConfig
		job  Job
	}{
		{name: "empty expression", cfg: JobConfig{}, job: func(context.Context) error { return nil }},
		{name: "bad expression", cfg: JobConfig{Expression: "every tuesday"}, job: func(context.Context) error { return nil }},
		{name: "negative retries", cfg: JobConfig{Expression: "@hourly", MaxRetries: -1}, job: func(context.Context) error { return nil }},
		{name: "nil job", cfg: JobConfig{Expression: "@hourly"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := scheduler.Schedule(tc.cfg, tc.job)
			if !stackflow.HasCode(err, stackflow.ErrCodeInvalidRequest) {
				t.Fatalf("expected invalid request, got %v", err)
			}
		})
	}
	if len(scheduler.Handles()) != 0 {
		t.Fatal("rejected jobs must not leave handles behind")
	}
}
