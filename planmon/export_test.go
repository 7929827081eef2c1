package planmon

// WithClock exposes the clock override for tests.
var WithClock = withClock
