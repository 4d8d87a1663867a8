// Package fairsched implements a fair-share task scheduler for sandboxed
// in-process virtual machines ("computers"): a bounded pool of worker
// goroutines dispatches bursts of work for each computer, ordered by a
// CFS-style virtual-runtime accounting scheme, and a monitor goroutine
// protects the pool from runaway computers via a three-level pre-emption
// ladder (cooperative soft-abort, hard-abort plus interruption, and worker
// replacement).
//
// # Quick Start
//
// Build a Scheduler with a fixed worker count and start it:
//
//	s := fairsched.New(4, fairsched.DefaultConfig())
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	s.Start(ctx)
//	defer s.Stop()
//
// Admit an executor.Executor implementation into the run queue:
//
//	if err := s.Queue(myComputer); err != nil {
//		// myComputer was already queued; this is a caller bug, not a
//		// transient condition.
//	}
//
// # Key Concepts
//
// Executor is the capability interface a sandboxed computer implements;
// the scheduler owns and mutates its scheduling fields (virtual runtime,
// queue membership, the executing-thread binding) exclusively.
//
// Virtual runtime accounting divides elapsed slice time by one plus the
// queue size, so a busier queue advances every running computer's virtual
// runtime more slowly; newly admitted computers are credited with at least the
// scheduler's current virtual-runtime floor, so they cannot leapfrog
// everything already waiting.
//
// The monitor walks every worker's in-flight executor once per tick,
// escalating through a soft-abort flag an executor is expected to poll at
// its own safepoints, to a hard abort once a grace window expires, to a
// worker interruption after a further window, to outright worker
// replacement if even that fails to dislodge it.
package fairsched
