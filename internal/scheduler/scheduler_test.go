package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTriggerSkipsWhileBusy(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	release := make(chan struct{})
	entered := make(chan struct{})
	var runs atomic.Int32

	done := make(chan bool)
	go func() {
		done <- s.Trigger(context.Background(), func(context.Context) error {
			runs.Add(1)
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	if !s.Active() {
		t.Fatal("周期执行中 Active 应为 true")
	}
	if s.Trigger(context.Background(), func(context.Context) error { runs.Add(1); return nil }) {
		t.Fatal("已有周期在执行时应跳过")
	}

	close(release)
	if !<-done {
		t.Fatal("第一次触发应执行")
	}
	if runs.Load() != 1 {
		t.Fatalf("只应执行一次, 实际 %d", runs.Load())
	}
	if s.Active() {
		t.Fatal("周期结束后应释放")
	}
}

func TestPanicReleasesGuard(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	if !s.Trigger(context.Background(), func(context.Context) error { panic("boom") }) {
		t.Fatal("应执行")
	}
	if s.Active() {
		t.Fatal("panic 后应释放执行标记")
	}

	ran := false
	s.Trigger(context.Background(), func(context.Context) error { ran = true; return errors.New("fail") })
	if !ran {
		t.Fatal("panic 后下一次周期应能运行")
	}
}

func TestRunImmediatelyThenTicks(t *testing.T) {
	s := New(Options{Interval: 20 * time.Millisecond, RunImmediately: true}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	var runs atomic.Int32
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx, func(context.Context) error {
			runs.Add(1)
			return nil
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() < 3 {
		t.Fatalf("应至少执行 3 次, 实际 %d", runs.Load())
	}
	if !s.Running() {
		t.Fatal("运行中 Running 应为 true")
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("取消后应返回 context.Canceled, 实际 %v", err)
	}
	if s.Running() {
		t.Fatal("停止后 Running 应为 false")
	}
}

func TestRunWaitsForInFlightCycle(t *testing.T) {
	s := New(Options{Interval: time.Hour, RunImmediately: true}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	entered := make(chan struct{})
	var finished atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx, func(context.Context) error {
			close(entered)
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return nil
		})
	}()

	<-entered
	cancel()
	<-errCh
	if !finished.Load() {
		t.Fatal("关闭时应等待进行中的周期完成")
	}
}
