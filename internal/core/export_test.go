package core

// PullEstimates reports how many withdrawal requests still carry a pull estimate
func (r *Router) PullEstimates() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pullEstimates)
}
