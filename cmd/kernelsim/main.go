// Command kernelsim boots the scheduler and drives one of the literal
// testable scenarios from spec.md §8, the way Pintos' own test binaries
// (alarm-single, lottery-3, ...) are small drivers around the same
// thread.c the rest of the kernel uses, rather than a separate harness.
package main

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/smallkernel/sched/internal/kernel"
	"github.com/smallkernel/sched/internal/klog"
	"github.com/smallkernel/sched/internal/selector"
	"github.com/smallkernel/sched/internal/tcb"
)

func main() {
	scenario := flag.String("scenario", "alarm-single", "alarm-single | alarm-multiple | lottery-3 | lottery-priority-gate | priority-rr")
	seed := flag.Int64("seed", 1, "lottery PRNG seed")
	flag.Parse()

	log := klog.New("kernelsim")

	mode := selector.RoundRobin
	switch *scenario {
	case "lottery-3", "lottery-priority-gate":
		mode = selector.Lottery
	}

	k := kernel.New(mode, *seed, 0)
	k.Start()
	stopTicks := startTickSource(k)
	defer stopTicks()

	switch *scenario {
	case "alarm-single":
		runAlarmScenario(k, log, 1, 5)
	case "alarm-multiple":
		runAlarmScenario(k, log, 7, 5)
	case "lottery-3":
		runLotteryThree(k, log)
	case "lottery-priority-gate":
		runLotteryPriorityGate(k, log)
	case "priority-rr":
		runPriorityRoundRobin(k, log)
	default:
		fmt.Fprintf(os.Stderr, "unknown scenario %q\n", *scenario)
		os.Exit(2)
	}
}

// startTickSource spawns the goroutine playing the timer interrupt's role:
// the only concurrent actor besides whichever thread currently holds the
// baton (spec.md's Design Notes). Real wall-clock pacing, not simulation
// speed, is the point of the demo binary; the deterministic, tick-driven
// variants of these scenarios live in internal/kernel's tests instead.
func startTickSource(k *kernel.Kernel) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				k.Tick()
			}
		}
	}()
	return func() { close(done) }
}

type wakeRecord struct {
	name string
	tick uint64
}

// runAlarmScenario ports alarm-wait.c's alarm_single/alarm_multiple: each
// of threads threads sleeps a duration proportional to its index,
// iterations times, and the scheduler is expected to wake earlier sleepers
// no later than later ones within each round (spec.md §8's
// non-decreasing-product property).
func runAlarmScenario(k *kernel.Kernel, log *klog.Logger, iterations, threads int) {
	var mu sync.Mutex
	var records []wakeRecord
	done := atomic.NewInt64(0)

	for i := 0; i < threads; i++ {
		i := i
		name := fmt.Sprintf("alarm-%d", i)
		_, err := k.Create(name, tcb.PriDefault, func(any) {
			for round := 0; round < iterations; round++ {
				k.Sleep(uint64((i + 1) * 10))
				mu.Lock()
				records = append(records, wakeRecord{name: name, tick: k.Now()})
				mu.Unlock()
			}
			done.Inc()
		}, nil)
		if err != nil {
			log.Fatal("create failed", klog.F("err", err.Error()))
		}
	}

	for done.Load() < int64(threads) {
		k.Yield()
	}

	mu.Lock()
	defer mu.Unlock()
	for _, r := range records {
		log.Event("woke", klog.F("thread", r.name), klog.F("tick", r.tick))
	}
}

// runLotteryThree ports lottery-performance.c's lottery_3: three threads at
// one priority, holding 100/10/1 tickets, should split the CPU roughly in
// that ratio (spec.md §8's lottery-3 property).
func runLotteryThree(k *kernel.Kernel, log *klog.Logger) {
	tickets := []int{100, 10, 1}
	done := atomic.NewInt64(0)
	var ids []tcb.ID

	for _, n := range tickets {
		n := n
		name := fmt.Sprintf("lot-%d", n)
		id, err := k.CreateLottery(name, tcb.PriDefault, n, func(any) {
			spin(k, 400)
			done.Inc()
		}, nil)
		if err != nil {
			log.Fatal("create failed", klog.F("err", err.Error()))
		}
		ids = append(ids, id)
	}

	for done.Load() < int64(len(tickets)) {
		k.Yield()
	}

	counts := k.RunCounts()
	for i, id := range ids {
		log.Event("ticket share", klog.F("tickets", tickets[i]), klog.F("ticks", counts[int(id)]))
	}
}

// runLotteryPriorityGate ports lottery-performance.c's lottery_priority:
// a high-ticket, low-priority thread must never run while any thread in a
// higher priority band is runnable (spec.md §8's lottery-priority-gate
// property) — the hybrid scheduler's priority gate takes precedence over
// ticket weight.
func runLotteryPriorityGate(k *kernel.Kernel, log *klog.Logger) {
	done := atomic.NewInt64(0)

	lowID, err := k.CreateLottery("low-many-tickets", tcb.PriDefault-1, 1000, func(any) {
		spin(k, 400)
		done.Inc()
	}, nil)
	if err != nil {
		log.Fatal("create failed", klog.F("err", err.Error()))
	}

	_, err = k.CreateLottery("high-one-ticket", tcb.PriDefault, 1, func(any) {
		spin(k, 400)
		done.Inc()
	}, nil)
	if err != nil {
		log.Fatal("create failed", klog.F("err", err.Error()))
	}

	for done.Load() < 2 {
		k.Yield()
	}

	counts := k.RunCounts()
	log.Event("priority gate result", klog.F("low_priority_ticks", counts[int(lowID)]))
}

// runPriorityRoundRobin is a small demo of strict priority preemption under
// round-robin: a low-priority spinner never gets the CPU until a
// higher-priority thread created mid-run finishes.
func runPriorityRoundRobin(k *kernel.Kernel, log *klog.Logger) {
	done := atomic.NewInt64(0)

	_, err := k.Create("low", tcb.PriDefault-1, func(any) {
		spin(k, 200)
		done.Inc()
	}, nil)
	if err != nil {
		log.Fatal("create failed", klog.F("err", err.Error()))
	}
	_, err = k.Create("high", tcb.PriDefault+1, func(any) {
		spin(k, 50)
		done.Inc()
	}, nil)
	if err != nil {
		log.Fatal("create failed", klog.F("err", err.Error()))
	}

	for done.Load() < 2 {
		k.Yield()
	}
	log.Event("priority round robin finished")
}

// spin busy-loops for n iterations, calling CheckPreempt at each back-edge
// so the thread yields whenever the tick handler has requested it — the
// cooperative-preemption safe point every long-running thread body in this
// kernel must call.
func spin(k *kernel.Kernel, n int) {
	for i := 0; i < n; i++ {
		k.CheckPreempt()
	}
}
