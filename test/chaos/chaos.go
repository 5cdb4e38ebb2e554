package chaos

import (
	"context"
	"math/rand"
	"time"

	"driftpay/queue"
)

// FlapConnectivity randomly toggles the processor's online state, so
// submissions race against reconnect drains the whole run.
func FlapConnectivity(ctx context.Context, p *queue.Processor, stop <-chan struct{}) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(3) == 0 {
				p.SetOnline(ctx, !p.Online())
			}
		}
	}
}
