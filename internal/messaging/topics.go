package messaging

// Topic constants for verification events
const (
	TopicAlerts  = "poolverify.alerts"  // payoutwatch → notification consumers (JSON)
	TopicResults = "poolverify.results" // payoutwatch → dashboards, archivers (protobuf Struct)
)
