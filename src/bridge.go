package src

import "context"

// tuiReviewer carries review rounds from the engine goroutine into the
// Update loop. Replies come back over buffered channels so a round that
// times out never wedges the loop.
type tuiReviewer struct {
	m *model
}

func (r tuiReviewer) ReviewFile(ctx context.Context, req ReviewRequest) (ReviewOutcome, error) {
	respond := make(chan ReviewOutcome, 1)
	r.m.Program.Send(reviewRequestMsg{req: req, respond: respond})
	select {
	case outcome := <-respond:
		return outcome, nil
	case <-ctx.Done():
		return ReviewOutcome{Decision: DecisionCancel}, ctx.Err()
	}
}

func (r tuiReviewer) BatchMode(ctx context.Context, reqs []ReviewRequest) (BatchDecision, error) {
	respond := make(chan BatchDecision, 1)
	r.m.Program.Send(batchRequestMsg{reqs: reqs, respond: respond})
	select {
	case decision := <-respond:
		return decision, nil
	case <-ctx.Done():
		return BatchNone, ctx.Err()
	}
}

func (r tuiReviewer) ConfirmFile(ctx context.Context, req ReviewRequest) (bool, error) {
	respond := make(chan bool, 1)
	r.m.Program.Send(confirmRequestMsg{req: req, respond: respond})
	select {
	case ok := <-respond:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
