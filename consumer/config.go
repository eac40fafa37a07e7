package consumer

import (
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/pzmi/hermes/internal/logging"
	"github.com/pzmi/hermes/types"
)

// Default configuration values for NodeConsumer.
const (
	// DefaultSubjectTemplate maps a subscription to its qualified topic name.
	DefaultSubjectTemplate = "{{.Topic}}"

	// DefaultBatchSize is the default number of messages to fetch per pull request.
	DefaultBatchSize = 1

	// DefaultMaxWaiting is the default maximum number of outstanding pull requests.
	DefaultMaxWaiting = 512

	// DefaultFetchTimeout is the default maximum duration to wait for messages.
	DefaultFetchTimeout = 5 * time.Second

	// DefaultMaxRetries is the default number of retries of consumer updates.
	DefaultMaxRetries = 3

	// DefaultRetryBackoff is the base delay between retries.
	DefaultRetryBackoff = 100 * time.Millisecond

	// DefaultMaxRetryBackoff caps the jittered retry delay.
	DefaultMaxRetryBackoff = 2 * time.Second

	// DefaultAckWait is the default duration to wait for acknowledgment.
	DefaultAckWait = 30 * time.Second

	// DefaultMaxDeliver is the default maximum delivery attempts.
	DefaultMaxDeliver = 3

	// DefaultInactiveThreshold removes durables of nodes that are gone.
	DefaultInactiveThreshold = 24 * time.Hour
)

// Config configures a NodeConsumer.
//
// StreamName and ConsumerPrefix are required. Zero values of the other fields
// are replaced by the defaults above.
type Config struct {
	StreamName     string
	ConsumerPrefix string

	// SubjectTemplate is a text/template rendering the subject of one
	// subscription. Fields: .Name, .Topic, .Group, .TopicName, .Subscription.
	SubjectTemplate string

	// MaxSubjects caps the filter subjects of one consumer. 0 means no cap.
	MaxSubjects int

	AckWait           time.Duration
	MaxDeliver        int
	InactiveThreshold time.Duration

	BatchSize    int
	MaxWaiting   int
	FetchTimeout time.Duration

	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration

	Logger types.Logger
}

func (cfg *Config) applyDefaults() {
	if cfg.SubjectTemplate == "" {
		cfg.SubjectTemplate = DefaultSubjectTemplate
	}
	if cfg.AckWait == 0 {
		cfg.AckWait = DefaultAckWait
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = DefaultMaxDeliver
	}
	if cfg.InactiveThreshold == 0 {
		cfg.InactiveThreshold = DefaultInactiveThreshold
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxWaiting == 0 {
		cfg.MaxWaiting = DefaultMaxWaiting
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = DefaultMaxRetryBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
}

func (cfg *Config) consumerConfig(name string, subjects []string) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Name:              name,
		Durable:           name,
		FilterSubjects:    subjects,
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           cfg.AckWait,
		MaxDeliver:        cfg.MaxDeliver,
		InactiveThreshold: cfg.InactiveThreshold,
		MaxWaiting:        cfg.MaxWaiting,
	}
}
