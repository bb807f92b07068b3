package messaging

import (
	"hash/fnv"
	"strconv"
)

// Stream and subject names of the event log.
// Subjects follow the pattern: {domain}.{action}.{partition}
const (
	StreamEvents        = "EVENTS"
	SubjectEventsPrefix = "events.collect"

	StreamDLQ  = "EVENTS_DLQ"
	SubjectDLQ = "events.dlq"

	// ConsumerPrefix names the durable consumer of each partition: storage-p0, storage-p1, ...
	ConsumerPrefix = "storage-p"
)

// DefaultPartitions is the partition count used when none is configured.
const DefaultPartitions = 8

// PartitionFor maps key onto [0, partitions) with 32-bit FNV-1a.
func PartitionFor(key string, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(partitions))
}

// PartitionSubject returns the subject of one partition.
// Example: events.collect.3
func PartitionSubject(prefix string, partition int) string {
	return prefix + "." + strconv.Itoa(partition)
}

// WildcardSubject matches every partition under prefix.
func WildcardSubject(prefix string) string {
	return prefix + ".*"
}

// ConsumerName returns the durable consumer name for a partition.
func ConsumerName(partition int) string {
	return ConsumerPrefix + strconv.Itoa(partition)
}
