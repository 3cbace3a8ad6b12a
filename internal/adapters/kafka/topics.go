package kafka

// Topic definitions for workflow event streaming
const (
	// TopicAudit carries every audit record, keyed by entity id
	TopicAudit = "workflow.audit"
)

// Consumer group suffixes; the configured group id is the prefix
const (
	GroupAuditArchive = "audit-archive"
	GroupAggregate    = "aggregate-recompute"
)
