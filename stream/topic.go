package stream

import (
	"fmt"
	"strings"
	"sync"
)

// Topic names follow a small grammar:
//
//	job:<jobID>    — events for one job
//	type:<name>    — events for all jobs of one task type
//	jobs           — every lifecycle event, including lease reclaims
//	firehose       — everything
const (
	TopicJobs     = "jobs"
	TopicFirehose = "firehose"
)

// JobTopic returns the topic name for a single job.
func JobTopic(jobID string) string { return "job:" + jobID }

// TypeTopic returns the topic name for a task type.
func TypeTopic(taskType string) string { return "type:" + taskType }

// ValidateTopic checks whether a topic string is well formed.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicJobs, TopicFirehose:
		return nil
	}

	idx := strings.IndexByte(topic, ':')
	if idx <= 0 || idx == len(topic)-1 {
		return fmt.Errorf("jobq/stream: invalid topic %q", topic)
	}
	switch topic[:idx] {
	case "job", "type":
		return nil
	default:
		return fmt.Errorf("jobq/stream: unknown topic kind %q", topic[:idx])
	}
}

// topicRegistry maps topic names to subscriber sets. Safe for
// concurrent use.
type topicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber
}

func newTopicRegistry() *topicRegistry {
	return &topicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

func (tr *topicRegistry) subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	sub.addTopic(topic)
}

func (tr *topicRegistry) unsubscribe(topic, subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		return
	}
	if sub, exists := subs[subscriberID]; exists {
		sub.removeTopic(topic)
		delete(subs, subscriberID)
	}
	if len(subs) == 0 {
		delete(tr.topics, topic)
	}
}

func (tr *topicRegistry) unsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for topic, subs := range tr.topics {
		if sub, ok := subs[subscriberID]; ok {
			sub.removeTopic(topic)
			delete(subs, subscriberID)
		}
		if len(subs) == 0 {
			delete(tr.topics, topic)
		}
	}
}

// broadcast sends an event to every subscriber on the listed topics,
// deduplicating subscribers that appear on more than one. Returns the
// number of deliveries.
func (tr *topicRegistry) broadcast(topics []string, evt *Event) int {
	tr.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for id, sub := range tr.topics[topic] {
			seen[id] = sub
		}
	}
	tr.mu.RUnlock()

	delivered := 0
	for _, sub := range seen {
		if sub.deliver(evt) {
			delivered++
		}
	}
	return delivered
}

func (tr *topicRegistry) topicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}
