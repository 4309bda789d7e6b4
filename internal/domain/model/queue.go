package model

// QueueName identifies a logical dispatch queue.
type QueueName string

const (
	QueueIdentity  QueueName = "identity"
	QueueScreening QueueName = "screening"
	QueueDocument  QueueName = "document"
	QueueRules     QueueName = "rules"
)

// AllQueues lists the queues the dispatcher runs pools for.
func AllQueues() []QueueName {
	return []QueueName{QueueIdentity, QueueScreening, QueueDocument, QueueRules}
}
