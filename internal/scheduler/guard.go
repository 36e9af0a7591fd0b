package scheduler

// guard admits one cycle at a time. Ticks use tryAcquire and are
// dropped while a cycle runs; shutdown uses acquire to wait it out.
type guard chan struct{}

func newGuard() guard {
	return make(guard, 1)
}

func (g guard) tryAcquire() bool {
	select {
	case g <- struct{}{}:
		return true
	default:
		return false
	}
}

func (g guard) acquire() {
	g <- struct{}{}
}

func (g guard) release() {
	<-g
}
