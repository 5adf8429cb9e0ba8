// Package bus provides the wire types and Redis schema for redwood sessions.
//
// # Overview
//
// A redwood session is a shared, append-only stream of envelopes. Every
// participant ("subject") and the admin tooling publish envelopes onto the
// session bus; every envelope is persisted before it is fanned out, so a
// participant that connects late (or reconnects) can replay the log and
// arrive at the same state as everyone else.
//
// # Core Concepts
//
// An Envelope is an immutable tagged message: who sent it, the period and
// group it belongs to, a key and a JSON value. Keys prefixed with an
// underscore are reserved for the coordination protocol (period changes,
// barriers, points, retrieval); everything else is application data.
//
// The publishing client assigns nothing but the sender. Redis assigns the
// sequence number atomically with persistence, and the publish script
// applies the session-table side effects (a subject's period, group and
// current page) in the same round trip.
//
// # Multi-Session Support
//
// All Redis keys and Pub/Sub channels are namespaced by instance name and
// session number, so any number of experiments can share one Redis server.
//
// # Usage Example
//
//	client, err := bus.NewClient(&redis.Options{Addr: "localhost:6379"}, "lab", 1)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	env, err := bus.NewEnvelope("3", 1, 1, "offer", map[string]int{"price": 12})
//	if err != nil {
//		log.Fatal(err)
//	}
//	published, err := client.Publish(ctx, env)
//
// # Redis Key Patterns
//
//	redwood:{instance}:{session}:log          LIST   every envelope, seq order
//	redwood:{instance}:{session}:period:{n}   LIST   envelopes of period n
//	redwood:{instance}:{session}:seq          STRING sequence counter
//	redwood:{instance}:{session}:periods      HASH   subject -> period
//	redwood:{instance}:{session}:groups       HASH   subject -> group
//	redwood:{instance}:{session}:pages        HASH   subject -> page
//	redwood:{instance}:{session}:config       STRING last __set_config__ envelope
//	redwood:{instance}:{session}:events       Pub/Sub channel
//	redwood:sessions                          SET    {instance}:{session}
package bus
