package bus

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name and
// session number so several sessions can share a Redis server.
//
// Key pattern: redwood:{instance}:{session}:{entity}
// Channel pattern: redwood:{instance}:{session}:events

// SessionsKey is the Redis set of every session that has seen a publish.
const SessionsKey = "redwood:sessions"

func sessionPrefix(instanceName string, session int) string {
	return fmt.Sprintf("redwood:%s:%d", instanceName, session)
}

// SessionMember returns the member stored in SessionsKey for a session.
func SessionMember(instanceName string, session int) string {
	return fmt.Sprintf("%s:%d", instanceName, session)
}

// SessionLogKey returns the key of the list holding every envelope of a session.
// Pattern: redwood:{instance}:{session}:log
func SessionLogKey(instanceName string, session int) string {
	return sessionPrefix(instanceName, session) + ":log"
}

// PeriodLogKey returns the key of the list holding the envelopes of one period.
// Pattern: redwood:{instance}:{session}:period:{period}
func PeriodLogKey(instanceName string, session, period int) string {
	return fmt.Sprintf("%s:period:%d", sessionPrefix(instanceName, session), period)
}

// PeriodLogPattern returns a KEYS pattern matching every period log of a session.
func PeriodLogPattern(instanceName string, session int) string {
	return sessionPrefix(instanceName, session) + ":period:*"
}

// SeqKey returns the key of the session sequence counter.
// Pattern: redwood:{instance}:{session}:seq
func SeqKey(instanceName string, session int) string {
	return sessionPrefix(instanceName, session) + ":seq"
}

// PeriodsKey returns the key of the subject -> period hash.
// Pattern: redwood:{instance}:{session}:periods
func PeriodsKey(instanceName string, session int) string {
	return sessionPrefix(instanceName, session) + ":periods"
}

// GroupsKey returns the key of the subject -> group hash.
// Pattern: redwood:{instance}:{session}:groups
func GroupsKey(instanceName string, session int) string {
	return sessionPrefix(instanceName, session) + ":groups"
}

// PagesKey returns the key of the subject -> page hash.
// Pattern: redwood:{instance}:{session}:pages
func PagesKey(instanceName string, session int) string {
	return sessionPrefix(instanceName, session) + ":pages"
}

// ConfigKey returns the key holding the last __set_config__ envelope.
// Pattern: redwood:{instance}:{session}:config
func ConfigKey(instanceName string, session int) string {
	return sessionPrefix(instanceName, session) + ":config"
}

// EventsChannel returns the Pub/Sub channel envelopes are fanned out on.
// Pattern: redwood:{instance}:{session}:events
func EventsChannel(instanceName string, session int) string {
	return sessionPrefix(instanceName, session) + ":events"
}
