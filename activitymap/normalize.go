package activitymap

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goliatone/go-auth-client"
)

const (
	// MetadataKeyEmail stores the masked email of the session user.
	MetadataKeyEmail = "email"
	// MetadataKeyInstance stores the widget instance that produced the event.
	MetadataKeyInstance = "instance"
)

const (
	defaultChannel    = "auth-widget"
	defaultObjectType = "session"
	defaultActorID    = "anonymous"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	instance         string
	actorFallback    string
	objectIDResolver func(authclient.ActivityEvent) string
}

// Normalize converts an authclient.ActivityEvent into a generic normalized shape.
func Normalize(event authclient.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    firstNonEmpty(strings.TrimSpace(event.UserID), options.actorFallback),
		Verb:       string(event.EventType),
		ObjectType: options.objectType,
		ObjectID:   resolveObjectID(event, options),
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event, options),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the default object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithInstance tags records with the widget instance id. The instance also
// becomes the object id unless a resolver is set.
func WithInstance(instance string) Option {
	return func(opts *normalizeOptions) {
		opts.instance = strings.TrimSpace(instance)
	}
}

// WithObjectIDResolver overrides object-id extraction from ActivityEvent.
func WithObjectIDResolver(resolver func(authclient.ActivityEvent) string) Option {
	return func(opts *normalizeOptions) {
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the actor id used when the event has no user.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
}

func resolveObjectID(event authclient.ActivityEvent, options normalizeOptions) string {
	if options.objectIDResolver != nil {
		return strings.TrimSpace(options.objectIDResolver(event))
	}
	return firstNonEmpty(options.instance, strings.TrimSpace(event.UserID))
}

func normalizeMetadata(event authclient.ActivityEvent, options normalizeOptions) map[string]any {
	metadata := cloneMap(event.Metadata)

	if raw, ok := metadata[MetadataKeyEmail].(string); ok {
		metadata[MetadataKeyEmail] = maskEmail(strings.TrimSpace(raw))
	}

	if email := strings.TrimSpace(event.Email); email != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[MetadataKeyEmail] = maskEmail(email)
	}

	if options.instance != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeyInstance]; !exists {
			metadata[MetadataKeyInstance] = options.instance
		}
	}

	return metadata
}

// maskEmail keeps the first character of the local part and the domain.
func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	_, size := utf8.DecodeRuneInString(email)
	return email[:size] + "***" + email[at:]
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
