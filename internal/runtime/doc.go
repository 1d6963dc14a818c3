// Package runtime implements the deterministic reactive execution core.
//
// A Program is a fixed composition of reactor instances that communicate
// through typed ports and react to timers, actions, and inputs at discrete
// logical instants identified by tags. The Scheduler advances logical time
// one tag at a time: it delivers every event sharing the minimal tag,
// executes the transitively triggered reactions in an order fixed by the
// reaction graph, applies each reaction's staged effects atomically when
// its body returns, and only then moves to the next tag.
//
// Physical time is a separate axis. Watchdogs count down against the
// physical clock concurrently with logical execution and feed back into the
// logical domain only through synthetic events. Deadlines compare the
// physical instant of execution against the triggering event's logical
// time. Both are recovery mechanisms, not errors.
//
// Thread-safety model:
//   - Run() must be called from exactly one goroutine; all port, mode, and
//     state mutation happens there.
//   - InjectPhysical/InjectAt are safe from any goroutine (event queue and
//     watchdog table carry their own locks).
//   - Reaction bodies must not retain the Ctx past their return.
package runtime
