package fastview

import (
	"time"

	channerics "github.com/niceyeti/channerics/channels"
)

// Aggregate fans in the views' ele-update channels into a single channel and batches them
// so that at most one batch per rate is emitted.
func Aggregate(
	done <-chan struct{},
	views []ViewComponent,
	rate time.Duration,
) <-chan []EleUpdate {
	inputs := make([]<-chan []EleUpdate, len(views))
	for i, view := range views {
		inputs[i] = view.Updates()
	}
	return Batch(done, channerics.Merge(done, inputs...), rate)
}

// Batch collects updates for the given time frame before sending, over-writing previously
// received values for the same ele-id, so only the latest value per element is sent.
// Updates still pending when a quiet period follows a burst are flushed on the next tick.
func Batch(
	done <-chan struct{},
	source <-chan []EleUpdate,
	rate time.Duration,
) <-chan []EleUpdate {
	output := make(chan []EleUpdate)

	go func() {
		defer close(output)

		pending := map[string]EleUpdate{}
		order := []string{}
		ticker := channerics.NewTicker(done, rate)
		input := channerics.OrDone(done, source)

		for {
			select {
			case updates, ok := <-input:
				if !ok {
					return
				}
				for _, update := range updates {
					if _, seen := pending[update.EleId]; !seen {
						order = append(order, update.EleId)
					}
					pending[update.EleId] = update
				}
			case <-ticker:
				if len(pending) == 0 {
					continue
				}
				batch := make([]EleUpdate, 0, len(order))
				for _, id := range order {
					batch = append(batch, pending[id])
				}
				select {
				case output <- batch:
					pending = map[string]EleUpdate{}
					order = order[:0]
				case <-done:
					return
				}
			}
		}
	}()

	return output
}
