package machine

// Config carries the ambient settings that affect how a Machine runs,
// not what it computes: trace flags a harness can flip on, and a
// presentation-facing throttle hint this core never acts on itself.
type Config struct {
	Trace      bool // log each CPU step (PC and cycle count)
	TraceTimer bool // log DIV/TIMA updates
	LimitFPS   bool // kept for host callers; this core never throttles itself
}
