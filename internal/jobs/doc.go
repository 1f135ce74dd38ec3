// Package jobs is the lifecycle service every front-end talks to.
//
// Service wraps the job store's compare-and-set transitions with the rules
// that span components: limiter admission and refund around submission,
// artifact deletion on cancel, storage sealing on terminal transitions,
// dispatch announcements and metrics. The store remains the single writer
// of job state; Service never updates a row except through a transition.
package jobs
