package calls

import (
	"context"
	"fmt"

	"crabstack.local/projects/crab-voice/internal/voice"
)

// Binder attaches stream-end handling to pooled handles and reports how many
// were bound.
type Binder interface {
	Bind(handles []voice.Handle) int
}

// Boot starts the session pool and wires completion handling. A pool with no
// handles fails with pool.ErrNoHandles, which callers treat as fatal.
func (o *Orchestrator) Boot(ctx context.Context, binder Binder) error {
	if err := o.pool.Start(ctx); err != nil {
		return fmt.Errorf("start session pool: %w", err)
	}
	handles := o.pool.Handles()
	if binder == nil {
		o.logger.Printf("boot complete handles=%d auto_advance=disabled", len(handles))
		return nil
	}
	bound := binder.Bind(handles)
	o.logger.Printf("boot complete handles=%d auto_advance_bound=%d", len(handles), bound)
	return nil
}
