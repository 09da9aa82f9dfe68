package ports

// Metric names shared by the agent and observability backends.
const (
	MetricSamplesWritten  = "opcn3_samples_written_total"
	MetricSlotsMissed     = "opcn3_slots_missed_total"
	MetricDeviceFaults    = "opcn3_device_faults_total"
	MetricReconnects      = "opcn3_reconnects_total"
	MetricPersistFailures = "opcn3_persist_failures_total"
	MetricMirrorFailures  = "opcn3_mirror_failures_total"

	MetricReadLatency   = "opcn3_read_latency_seconds"
	MetricAppendLatency = "opcn3_append_latency_seconds"

	MetricDeviceConnected = "opcn3_device_connected"
)
