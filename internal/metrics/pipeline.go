package metrics

import "time"

// FrameProcessed records the outcome of one frame.
func FrameProcessed(mode, outcome string, duration time.Duration) {
	FramesTotal.WithLabelValues(mode, outcome).Inc()
	FrameDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// ParseFailed records an unparseable model response.
func ParseFailed(schema string) {
	ParseFailuresTotal.WithLabelValues(schema).Inc()
}

// PersistAttempt records one durable write.
func PersistAttempt(store string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	PersistAttemptsTotal.WithLabelValues(store, result).Inc()
	PersistDuration.WithLabelValues(store).Observe(duration.Seconds())
}

// PersistRetried records a retry of a failed durable write.
func PersistRetried(store string) {
	PersistRetriesTotal.WithLabelValues(store).Inc()
}

// SetTrackedScenes reports how many scenes have timelines.
func SetTrackedScenes(n int) {
	TrackedScenes.Set(float64(n))
}

// HazardCreated records a new hazard.
func HazardCreated(riskLevel string) {
	HazardsCreated.WithLabelValues(riskLevel).Inc()
}

// HazardResolved records an active hazard becoming resolved.
func HazardResolved() {
	HazardsResolved.Inc()
}

// ReconciliationIssue records a hazard update that was not applied.
func ReconciliationIssue(reason string) {
	ReconciliationIssuesTotal.WithLabelValues(reason).Inc()
}

// AlertEmitted records a warning that passed validation.
func AlertEmitted(urgency string) {
	AlertsTotal.WithLabelValues(urgency, "emitted").Inc()
}

// AlertDropped records a warning rejected by validation.
func AlertDropped(urgency string) {
	AlertsTotal.WithLabelValues(urgency, "dropped").Inc()
}

// AlertPublished records one publish attempt.
func AlertPublished(publisher string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	AlertPublishesTotal.WithLabelValues(publisher, result).Inc()
}

// ProviderCall records one vision provider round-trip.
func ProviderCall(provider, status string, duration time.Duration) {
	AIAPICalls.WithLabelValues(provider, status).Inc()
	AIAPIDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// ProviderTokens records token usage reported by a provider.
func ProviderTokens(provider string, input, output int) {
	AITokensTotal.WithLabelValues(provider, "input").Add(float64(input))
	AITokensTotal.WithLabelValues(provider, "output").Add(float64(output))
}
