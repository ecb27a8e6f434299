package enginetest

import (
    "sync"

    "github.com/kixelated/warp/pkg/engine"
)

// Factory builds Fakes and remembers them.
type Factory struct {
    // Configure, when set, scripts each new Fake.
    Configure func(*Fake)
    Err       error
    Panic     any

    mu      sync.Mutex
    engines []*Fake
    calls   int
}

// Func returns the engine.Factory view of f.
func (f *Factory) Func() engine.Factory {
    return func() (engine.Engine, error) {
        f.mu.Lock()
        f.calls++
        f.mu.Unlock()
        if f.Panic != nil { panic(f.Panic) }
        if f.Err != nil { return nil, f.Err }
        e := New()
        if f.Configure != nil { f.Configure(e) }
        f.mu.Lock(); f.engines = append(f.engines, e); f.mu.Unlock()
        return e, nil
    }
}

// Calls counts factory invocations, failed ones included.
func (f *Factory) Calls() int {
    f.mu.Lock(); defer f.mu.Unlock()
    return f.calls
}

// Engines returns every Fake built so far.
func (f *Factory) Engines() []*Fake {
    f.mu.Lock(); defer f.mu.Unlock()
    return append([]*Fake(nil), f.engines...)
}

// Last returns the most recently built Fake, or nil.
func (f *Factory) Last() *Fake {
    f.mu.Lock(); defer f.mu.Unlock()
    if len(f.engines) == 0 { return nil }
    return f.engines[len(f.engines)-1]
}
