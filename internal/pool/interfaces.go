package pool

// LoadEstimator reports a normalized CPU busyness in [0,1]. The elastic pool
// grows above HighWater and shrinks below LowWater.
type LoadEstimator interface {
	EstimateLoad() float64
}

// Notifier receives human readable scaling events.
type Notifier interface {
	Notice(msg string)
}
