// Package broker provides the durable partitioned log the message pipeline runs on.
package broker

import (
	"fmt"
	"hash/fnv"

	"social-chat/errors"
)

const (
	TopicChat          = "chat-messages"
	TopicNotifications = "notifications"
	deadLetterSuffix   = ":dead-letter"
)

// PartitionFor maps a partition key onto [0, partitions). Equal keys always share a partition.
func PartitionFor(key string, partitions int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(partitions))
}

var errBrokerClosed = errors.Transient(fmt.Errorf("broker closed"))

func streamName(topic string, partition int) string {
	return fmt.Sprintf("%s:%d", topic, partition)
}

func DeadLetterStream(topic string) string {
	return topic + deadLetterSuffix
}

func consumerName(group string, partition int) string {
	return fmt.Sprintf("%s-%d", group, partition)
}
