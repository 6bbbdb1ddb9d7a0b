package cmn

// Runner is implemented by every long-lived component the master loop's
// rungroup supervises: the control server, the housekeeping timer set,
// and the current phase's worker. Mirrors the teacher's cos.Runner
// (ais/daemon.go's rungroup).
type Runner interface {
	Name() string
	Run() error
	Stop(error)
}
