package bus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// logPageSize bounds each LRANGE when reading a log.
const logPageSize = 1000

// publishScript persists, records and fans out one envelope atomically, so a
// subscriber that reads the tables after receiving an envelope sees its effect.
//
// KEYS: seq, session log, period log, sessions set, events channel[, table]
// ARGV: unsequenced envelope JSON, session member[, table op, field, value]
//
// Table ops: "hset" sets field to value in the table hash, "config" stores the
// sequenced envelope itself.
//
// The envelope JSON is an object starting with '{', so the sequence number is
// spliced in as the first field.
var publishScript = redis.NewScript(`
local seq = redis.call('INCR', KEYS[1])
local payload = '{"seq":' .. seq .. ',' .. string.sub(ARGV[1], 2)
redis.call('RPUSH', KEYS[2], payload)
redis.call('RPUSH', KEYS[3], payload)
redis.call('SADD', KEYS[4], ARGV[2])
if ARGV[3] == 'hset' then
  redis.call('HSET', KEYS[6], ARGV[4], ARGV[5])
elseif ARGV[3] == 'config' then
  redis.call('SET', KEYS[6], payload)
end
redis.call('PUBLISH', KEYS[5], payload)
return payload
`)

// Client provides session-scoped Redis operations for the redwood bus.
// All keys and channels are automatically namespaced with the instance name
// and session number.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
	session      int
}

// NewClient creates a new bus client for one session of an instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: redwood instance identifier (must not be empty)
//   - session: session number (must be positive)
func NewClient(redisOpts *redis.Options, instanceName string, session int) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	if session <= 0 {
		return nil, fmt.Errorf("session must be positive, got %d", session)
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
		session:      session,
	}, nil
}

// Instance returns the instance name the client is scoped to.
func (c *Client) Instance() string {
	return c.instanceName
}

// Session returns the session number the client is scoped to.
func (c *Client) Session() int {
	return c.session
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Publish persists an envelope to the session and period logs and fans it
// out to every subscriber. The returned envelope carries the assigned Seq.
//
// Control keys are rewritten and recorded the way the session router did it:
// __set_period__ and __set_group__ take their Period/Group from the value and
// update the subject tables, __set_page__ records the page and
// __set_config__ is kept as the session's current configuration.
func (c *Client) Publish(ctx context.Context, env *Envelope) (*Envelope, error) {
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	out := *env
	if err := Route(&out); err != nil {
		return nil, err
	}

	payload, err := encodeUnsequenced(&out)
	if err != nil {
		return nil, err
	}

	keys := []string{
		SeqKey(c.instanceName, c.session),
		SessionLogKey(c.instanceName, c.session),
		PeriodLogKey(c.instanceName, c.session, out.Period),
		SessionsKey,
		EventsChannel(c.instanceName, c.session),
	}
	args := []interface{}{string(payload), SessionMember(c.instanceName, c.session)}

	table, err := c.tableWriteFor(&out)
	if err != nil {
		return nil, err
	}
	if table != nil {
		keys = append(keys, table.key)
		args = append(args, table.op, table.field, table.value)
	}

	stored, err := publishScript.Run(ctx, c.rdb, keys, args...).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to publish %s from %s: %w", out.Key, out.Sender, err)
	}

	published, err := DecodeEnvelope([]byte(stored))
	if err != nil {
		return nil, err
	}

	return published, nil
}

// Route rewrites the routing fields of control envelopes in place:
// __set_period__ takes its Period and __set_group__ its Group from the value.
func Route(env *Envelope) error {
	switch env.Key {
	case KeySetPeriod:
		var v PeriodValue
		if err := env.Decode(&v); err != nil {
			return err
		}
		if v.Period < 0 {
			return fmt.Errorf("invalid %s value: period must be >= 0, got %d", KeySetPeriod, v.Period)
		}
		env.Period = v.Period
	case KeySetGroup:
		var v GroupValue
		if err := env.Decode(&v); err != nil {
			return err
		}
		if v.Group < 0 {
			return fmt.Errorf("invalid %s value: group must be >= 0, got %d", KeySetGroup, v.Group)
		}
		env.Group = v.Group
	}
	return nil
}

// tableWrite is the table write the publish script makes for a control envelope.
type tableWrite struct {
	key   string
	op    string
	field string
	value string
}

// tableWriteFor returns the subject table write for control envelopes, or nil.
func (c *Client) tableWriteFor(env *Envelope) (*tableWrite, error) {
	switch env.Key {
	case KeySetPeriod:
		return &tableWrite{PeriodsKey(c.instanceName, c.session), "hset", env.Sender, strconv.Itoa(env.Period)}, nil
	case KeySetGroup:
		return &tableWrite{GroupsKey(c.instanceName, c.session), "hset", env.Sender, strconv.Itoa(env.Group)}, nil
	case KeySetPage:
		var v PageValue
		if err := env.Decode(&v); err != nil {
			return nil, fmt.Errorf("invalid %s value: %w", KeySetPage, err)
		}
		return &tableWrite{PagesKey(c.instanceName, c.session), "hset", env.Sender, v.Page}, nil
	case KeySetConfig:
		return &tableWrite{ConfigKey(c.instanceName, c.session), "config", "", ""}, nil
	}
	return nil, nil
}

// SessionLog returns every envelope of the session in sequence order.
func (c *Client) SessionLog(ctx context.Context) ([]*Envelope, error) {
	return c.readLog(ctx, SessionLogKey(c.instanceName, c.session))
}

// PeriodLog returns the envelopes of one period in sequence order.
func (c *Client) PeriodLog(ctx context.Context, period int) ([]*Envelope, error) {
	return c.readLog(ctx, PeriodLogKey(c.instanceName, c.session, period))
}

func (c *Client) readLog(ctx context.Context, key string) ([]*Envelope, error) {
	var envs []*Envelope
	for start := int64(0); ; start += logPageSize {
		raw, err := c.rdb.LRange(ctx, key, start, start+logPageSize-1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		page, err := DecodeEnvelopes(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", key, err)
		}
		envs = append(envs, page...)
		if len(raw) < logPageSize {
			return envs, nil
		}
	}
}

// Periods returns the subject -> period table.
func (c *Client) Periods(ctx context.Context) (map[string]int, error) {
	return c.readIntTable(ctx, PeriodsKey(c.instanceName, c.session))
}

// Groups returns the subject -> group table.
func (c *Client) Groups(ctx context.Context) (map[string]int, error) {
	return c.readIntTable(ctx, GroupsKey(c.instanceName, c.session))
}

// Pages returns the subject -> page table.
func (c *Client) Pages(ctx context.Context) (map[string]string, error) {
	pages, err := c.rdb.HGetAll(ctx, PagesKey(c.instanceName, c.session)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read pages: %w", err)
	}
	return pages, nil
}

func (c *Client) readIntTable(ctx context.Context, key string) (map[string]int, error) {
	raw, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	table := make(map[string]int, len(raw))
	for subject, value := range raw {
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q for subject %s in %s: %w", value, subject, key, err)
		}
		table[subject] = n
	}
	return table, nil
}

// Config returns the last __set_config__ envelope of the session.
// Returns (nil, redis.Nil) if the session has not been configured.
// Use IsNotFound() to check for not-found errors.
func (c *Client) Config(ctx context.Context) (*Envelope, error) {
	raw, err := c.rdb.Get(ctx, ConfigKey(c.instanceName, c.session)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return DecodeEnvelope([]byte(raw))
}

// Sessions lists every {instance}:{session} that has seen a publish.
func (c *Client) Sessions(ctx context.Context) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, SessionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return members, nil
}

// DeleteSession removes every key of the session, including all period logs.
// Subscribers are not notified.
func (c *Client) DeleteSession(ctx context.Context) error {
	periodKeys, err := c.rdb.Keys(ctx, PeriodLogPattern(c.instanceName, c.session)).Result()
	if err != nil {
		return fmt.Errorf("failed to list period logs: %w", err)
	}

	keys := append(periodKeys,
		SessionLogKey(c.instanceName, c.session),
		SeqKey(c.instanceName, c.session),
		PeriodsKey(c.instanceName, c.session),
		GroupsKey(c.instanceName, c.session),
		PagesKey(c.instanceName, c.session),
		ConfigKey(c.instanceName, c.session),
	)

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.SRem(ctx, SessionsKey, SessionMember(c.instanceName, c.session))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Subscription represents an active Pub/Sub subscription to session envelopes.
// Call Close() to unsubscribe and clean up resources.
type Subscription struct {
	events    <-chan *Envelope
	errors    <-chan error
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Events returns a read-only channel that receives published envelopes.
// The channel is closed when the subscription is closed.
func (s *Subscription) Events() <-chan *Envelope {
	return s.events
}

// Errors returns a read-only channel that receives decoding errors.
// Malformed payloads are reported here and skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close unsubscribes and releases resources. Safe to call more than once.
func (s *Subscription) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

// Subscribe subscribes to the session's envelope channel.
// It returns once Redis has confirmed the subscription, so every envelope
// published after Subscribe returns is delivered.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	channel := EventsChannel(c.instanceName, c.session)
	pubsub := c.rdb.Subscribe(ctx, channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	eventsChan := make(chan *Envelope, 64)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				env, err := DecodeEnvelope([]byte(msg.Payload))
				if err != nil {
					select {
					case errorsChan <- err:
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- env:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error indicates a key was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
