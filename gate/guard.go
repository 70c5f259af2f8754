package gate

import "github.com/tevino/abool"

// SingleFlightGuard admits at most one holder at a time. It is a flag, not a
// counter: a failed TryAcquire is not remembered.
type SingleFlightGuard struct {
	flag *abool.AtomicBool
}

func NewSingleFlightGuard() *SingleFlightGuard {
	return &SingleFlightGuard{flag: abool.New()}
}

// TryAcquire takes the guard if it is free and reports whether it did.
func (g *SingleFlightGuard) TryAcquire() bool {
	return g.flag.SetToIf(false, true)
}

// Release frees the guard. Releasing a free guard is harmless.
func (g *SingleFlightGuard) Release() {
	g.flag.UnSet()
}

func (g *SingleFlightGuard) Held() bool {
	return g.flag.IsSet()
}
