// Package config loads the TOML participant/endpoint QoS profile a
// cmd/publisher or cmd/subscriber binary runs with, the way the teacher
// loads its own client/server TOML configuration via
// github.com/BurntSushi/toml rather than flags for anything beyond the
// handful of per-invocation CLI switches (spec.md §6's CLI surface).
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/latticemw/rtpscore/core/qos"
)

// Config is one participant's static configuration: identity, transport
// binding, logging, and the named QoS profiles its endpoints select from.
type Config struct {
	Participant ParticipantConfig         `toml:"participant"`
	Logging     LoggingConfig             `toml:"logging"`
	Profiles    map[string]QoSProfile     `toml:"profile"`
	Endpoints   []EndpointConfig          `toml:"endpoint"`
}

// ParticipantConfig binds the local participant to a transport address and
// a domain-wide discovery lease.
type ParticipantConfig struct {
	DomainID      int           `toml:"domain_id"`
	BindAddress   string        `toml:"bind_address"`
	LeaseDuration time.Duration `toml:"lease_duration"`
}

// LoggingConfig selects the core/log.Backend's output level.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// QoSProfile is a named, TOML-friendly flattening of qos.EndpointQoS.
type QoSProfile struct {
	Reliability          string        `toml:"reliability"`           // "best_effort" | "reliable"
	Durability            string        `toml:"durability"`            // "volatile".."persistent"
	HeartbeatPeriod       time.Duration `toml:"heartbeat_period"`
	HeartbeatResponseDelay time.Duration `toml:"heartbeat_response_delay"`
	NackResponseDelay     time.Duration `toml:"nack_response_delay"`
	MaxBlockingTime       time.Duration `toml:"max_blocking_time"`
	HistoryKind           string        `toml:"history_kind"` // "keep_last" | "keep_all"
	HistoryDepth          int           `toml:"history_depth"`
	MaxSamples            int           `toml:"max_samples"`
	MaxInstances          int           `toml:"max_instances"`
	MaxSamplesPerInstance int           `toml:"max_samples_per_instance"`
	LivelinessKind        string        `toml:"liveliness_kind"` // "automatic".."manual_by_topic"
	LivelinessLease       time.Duration `toml:"liveliness_lease"`
	Partitions            []string      `toml:"partitions"`
}

// EndpointConfig declares one local reader or writer, its topic, and which
// named QoSProfile it uses.
type EndpointConfig struct {
	Kind     string `toml:"kind"` // "reader" | "writer"
	Topic    string `toml:"topic"`
	TypeName string `toml:"type_name"`
	Profile  string `toml:"profile"`
}

// Load parses a TOML file at path into a Config.
func Load(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, nil
}

// Resolve converts profile (by name) into a qos.EndpointQoS, starting from
// qos.Default() so an unset TOML field keeps its sane default.
func (c *Config) Resolve(profileName string) (qos.EndpointQoS, error) {
	prof, ok := c.Profiles[profileName]
	if !ok {
		return qos.EndpointQoS{}, fmt.Errorf("config: unknown QoS profile %q", profileName)
	}
	q := qos.Default()

	if prof.Reliability != "" {
		k, err := parseReliability(prof.Reliability)
		if err != nil {
			return qos.EndpointQoS{}, err
		}
		q.Reliability.Kind = k
	}
	if prof.Durability != "" {
		k, err := parseDurability(prof.Durability)
		if err != nil {
			return qos.EndpointQoS{}, err
		}
		q.Durability.Kind = k
	}
	if prof.HeartbeatPeriod > 0 {
		q.Reliability.HeartbeatPeriod = prof.HeartbeatPeriod
	}
	if prof.HeartbeatResponseDelay > 0 {
		q.Reliability.HeartbeatResponseDelay = prof.HeartbeatResponseDelay
	}
	if prof.NackResponseDelay > 0 {
		q.Reliability.NackResponseDelay = prof.NackResponseDelay
	}
	if prof.MaxBlockingTime > 0 {
		q.Reliability.MaxBlockingTime = prof.MaxBlockingTime
	}
	if prof.HistoryKind != "" {
		k, err := parseHistoryKind(prof.HistoryKind)
		if err != nil {
			return qos.EndpointQoS{}, err
		}
		q.History.Kind = k
	}
	if prof.HistoryDepth > 0 {
		q.History.Depth = prof.HistoryDepth
	}
	if prof.MaxSamples > 0 {
		q.History.MaxSamples = prof.MaxSamples
	}
	if prof.MaxInstances > 0 {
		q.History.MaxInstances = prof.MaxInstances
	}
	if prof.MaxSamplesPerInstance > 0 {
		q.History.MaxSamplesPerInstance = prof.MaxSamplesPerInstance
	}
	if prof.LivelinessKind != "" {
		k, err := parseLiveliness(prof.LivelinessKind)
		if err != nil {
			return qos.EndpointQoS{}, err
		}
		q.Liveliness.Kind = k
	}
	if prof.LivelinessLease > 0 {
		q.Liveliness.LeaseDuration = prof.LivelinessLease
	}
	if len(prof.Partitions) > 0 {
		q.Partitions = prof.Partitions
	}

	if err := q.Validate(); err != nil {
		return qos.EndpointQoS{}, fmt.Errorf("config: profile %q: %w", profileName, err)
	}
	return q, nil
}

func parseReliability(s string) (qos.ReliabilityKind, error) {
	switch s {
	case "best_effort":
		return qos.BestEffort, nil
	case "reliable":
		return qos.Reliable, nil
	default:
		return 0, fmt.Errorf("config: invalid reliability %q", s)
	}
}

func parseDurability(s string) (qos.DurabilityKind, error) {
	switch s {
	case "volatile":
		return qos.Volatile, nil
	case "transient_local":
		return qos.TransientLocal, nil
	case "transient":
		return qos.Transient, nil
	case "persistent":
		return qos.Persistent, nil
	default:
		return 0, fmt.Errorf("config: invalid durability %q", s)
	}
}

func parseHistoryKind(s string) (qos.HistoryKind, error) {
	switch s {
	case "keep_last":
		return qos.KeepLast, nil
	case "keep_all":
		return qos.KeepAll, nil
	default:
		return 0, fmt.Errorf("config: invalid history_kind %q", s)
	}
}

func parseLiveliness(s string) (qos.LivelinessKind, error) {
	switch s {
	case "automatic":
		return qos.Automatic, nil
	case "manual_by_participant":
		return qos.ManualByParticipant, nil
	case "manual_by_topic":
		return qos.ManualByTopic, nil
	default:
		return 0, fmt.Errorf("config: invalid liveliness_kind %q", s)
	}
}
