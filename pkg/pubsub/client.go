package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/angelmondragon/catalog-sync/pkg/config"
	"github.com/angelmondragon/catalog-sync/pkg/logger"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

const (
	// MaxAckDeadline is the largest ack deadline Pub/Sub accepts.
	MaxAckDeadline = 600 * time.Second
	minAckDeadline = 10 * time.Second

	// Pub/Sub accepts dead-letter delivery limits between 5 and 100.
	minDeadLetterAttempts = 5
	maxDeadLetterAttempts = 100
)

// Message is a pulled Pub/Sub message awaiting ack or nack.
type Message struct {
	AckID           string
	ID              string
	Data            []byte
	Attributes      map[string]string
	DeliveryAttempt int
	PublishTime     time.Time
}

type Client struct {
	client       *pubsub.Client
	projectID    string
	cfg          config.PubSubConfig
	ackDeadline  time.Duration
	subscription string
	logg         *logger.Logger

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoSubscription    = errors.New("pubsub subscription name is required")
	errNoTopic           = errors.New("pubsub topic name is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// NewClient creates a Pub/Sub v2 client bound to the configured stream and durable subscription.
// Topology is not touched here; call EnsureTopology once the client is up.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, ackDeadline time.Duration, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.Subscription) == "" {
		return nil, errNoSubscription
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errNoTopic
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := newClient(psClient, gcp.ProjectID, cfg, ackDeadline, logg)
	if logg != nil {
		logg.Info(ctx, "pubsub client initialized")
	}
	return c, nil
}

func newClient(psClient *pubsub.Client, projectID string, cfg config.PubSubConfig, ackDeadline time.Duration, logg *logger.Logger) *Client {
	c := &Client{
		client:      psClient,
		projectID:   projectID,
		cfg:         cfg,
		ackDeadline: ackDeadline,
		logg:        logg,
		publishers:  map[string]*pubsub.Publisher{},
	}
	c.subscription = c.subscriptionResourceName(cfg.Subscription)
	return c
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if creds := strings.TrimSpace(gcp.CredentialsJSON); creds != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// EnsureTopology idempotently creates the lifecycle topic and the durable subscription.
// When a dead-letter topic is configured the subscription forwards messages there
// after max(5, maxDeliveries) attempts, which also makes Pub/Sub report delivery
// attempts. When the subscription cannot be created it falls back to reusing any
// existing subscription on the topic that carries the same filter.
func (c *Client) EnsureTopology(ctx context.Context, maxDeliveries int) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	topic := c.topicResourceName(c.cfg.Topic)
	if err := c.ensureTopic(ctx, topic); err != nil {
		return err
	}
	for _, extra := range []string{c.cfg.DeadLetterTopic, c.cfg.NotificationTopic} {
		if strings.TrimSpace(extra) == "" {
			continue
		}
		if err := c.ensureTopic(ctx, c.topicResourceName(extra)); err != nil {
			return err
		}
	}

	filter := c.cfg.Filter()
	_, err := c.client.SubscriptionAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:                     c.subscription,
		Topic:                    topic,
		Filter:                   filter,
		AckDeadlineSeconds:       ackDeadlineSeconds(c.ackDeadline),
		MessageRetentionDuration: durationpb.New(7 * 24 * time.Hour),
		DeadLetterPolicy:         c.deadLetterPolicy(maxDeliveries),
	})
	if err == nil {
		c.logInfo(ctx, "pubsub subscription created", map[string]any{"subscription": c.subscription, "filter": filter})
		return nil
	}
	if status.Code(err) == codes.AlreadyExists {
		existing, getErr := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: c.subscription})
		if getErr == nil && existing.GetTopic() == topic && existing.GetFilter() == filter {
			return nil
		}
	}

	reused, findErr := c.findSubscriptionByFilter(ctx, topic, filter)
	if findErr != nil || reused == "" {
		return fmt.Errorf("ensuring subscription %q: %w", c.cfg.Subscription, err)
	}
	c.logInfo(ctx, "reusing existing durable subscription", map[string]any{"subscription": reused, "wanted": c.subscription})
	c.subscription = reused
	return nil
}

func (c *Client) deadLetterPolicy(maxDeliveries int) *pubsubpb.DeadLetterPolicy {
	topic := c.topicResourceName(c.cfg.DeadLetterTopic)
	if topic == "" {
		return nil
	}
	attempts := max(maxDeliveries, minDeadLetterAttempts)
	attempts = min(attempts, maxDeadLetterAttempts)
	return &pubsubpb.DeadLetterPolicy{
		DeadLetterTopic:     topic,
		MaxDeliveryAttempts: int32(attempts),
	}
}

func (c *Client) ensureTopic(ctx context.Context, name string) error {
	if name == "" {
		return errNoTopic
	}
	_, err := c.client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: name})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("ensuring topic %q: %w", name, err)
	}
	return nil
}

func (c *Client) findSubscriptionByFilter(ctx context.Context, topic, filter string) (string, error) {
	it := c.client.TopicAdminClient.ListTopicSubscriptions(ctx, &pubsubpb.ListTopicSubscriptionsRequest{Topic: topic})
	for {
		name, err := it.Next()
		if err == iterator.Done {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("listing subscriptions for %q: %w", topic, err)
		}
		sub, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name})
		if err != nil {
			continue
		}
		if sub.GetFilter() == filter {
			return name, nil
		}
	}
}

// Pull fetches up to max messages, waiting at most wait. An expired wait with no
// messages returns an empty slice and a nil error.
func (c *Client) Pull(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if c == nil || c.client == nil {
		return nil, errNotInitialized
	}
	if max < 1 {
		max = 1
	}
	pullCtx := ctx
	if wait > 0 {
		var cancel context.CancelFunc
		pullCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	resp, err := c.client.SubscriptionAdminClient.Pull(pullCtx, &pubsubpb.PullRequest{
		Subscription: c.subscription,
		MaxMessages:  int32(max),
	})
	if err != nil {
		if ctx.Err() == nil && IsPullTimeout(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("pulling from %q: %w", c.subscription, err)
	}

	out := make([]Message, 0, len(resp.GetReceivedMessages()))
	for _, rm := range resp.GetReceivedMessages() {
		msg := rm.GetMessage()
		m := Message{
			AckID:           rm.GetAckId(),
			DeliveryAttempt: int(rm.GetDeliveryAttempt()),
		}
		if msg != nil {
			m.ID = msg.GetMessageId()
			m.Data = msg.GetData()
			m.Attributes = msg.GetAttributes()
			if ts := msg.GetPublishTime(); ts != nil {
				m.PublishTime = ts.AsTime()
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// IsPullTimeout reports whether err is the bounded-wait expiry of an empty pull.
func IsPullTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return status.Code(err) == codes.DeadlineExceeded
}

// Ack acknowledges the given messages.
func (c *Client) Ack(ctx context.Context, ackIDs ...string) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	if len(ackIDs) == 0 {
		return nil
	}
	return c.client.SubscriptionAdminClient.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
		Subscription: c.subscription,
		AckIds:       ackIDs,
	})
}

// Nack makes the messages eligible for redelivery after delay.
func (c *Client) Nack(ctx context.Context, delay time.Duration, ackIDs ...string) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	if len(ackIDs) == 0 {
		return nil
	}
	if delay < 0 {
		delay = 0
	}
	if delay > MaxAckDeadline {
		delay = MaxAckDeadline
	}
	return c.client.SubscriptionAdminClient.ModifyAckDeadline(ctx, &pubsubpb.ModifyAckDeadlineRequest{
		Subscription:       c.subscription,
		AckIds:             ackIDs,
		AckDeadlineSeconds: int32(delay / time.Second),
	})
}

// Publish sends a message to the given topic and waits for the server id.
func (c *Client) Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error) {
	publisher := c.Publisher(topic)
	if publisher == nil {
		return "", fmt.Errorf("publisher for topic %q not configured", topic)
	}
	res := publisher.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := res.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publishing to %q: %w", topic, err)
	}
	return id, nil
}

// Publisher returns a cached publisher handle for the given topic ID/resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := c.topicResourceName(name)
	if fullName == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[fullName]; ok {
		return p
	}
	p := c.client.Publisher(fullName)
	c.publishers[fullName] = p
	return p
}

// DeadLetterTopic returns the configured dead-letter topic ID (may be empty).
func (c *Client) DeadLetterTopic() string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.cfg.DeadLetterTopic)
}

// SubscriptionName returns the resource name of the durable subscription in use.
func (c *Client) SubscriptionName() string {
	if c == nil {
		return ""
	}
	return c.subscription
}

// Ping verifies Pub/Sub connectivity by checking the durable subscription exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: c.subscription})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("subscription %q does not exist", c.subscription)
		}
		return fmt.Errorf("checking subscription %q: %w", c.subscription, err)
	}
	return nil
}

// Close stops cached publishers and releases the Pub/Sub client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for name, p := range c.publishers {
		p.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.client.Close()
}

func (c *Client) logInfo(ctx context.Context, msg string, fields map[string]any) {
	if c.logg == nil {
		return
	}
	c.logg.Info(c.logg.WithFields(ctx, fields), msg)
}

func ackDeadlineSeconds(d time.Duration) int32 {
	if d < minAckDeadline {
		d = minAckDeadline
	}
	if d > MaxAckDeadline {
		d = MaxAckDeadline
	}
	return int32(d / time.Second)
}

func (c *Client) subscriptionResourceName(name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/subscriptions/") {
		return n
	}
	p := strings.TrimSpace(c.projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/subscriptions/%s", p, n)
}

func (c *Client) topicResourceName(name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	p := strings.TrimSpace(c.projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/topics/%s", p, n)
}
