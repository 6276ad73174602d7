package rdds

import "time"

// Default periods and timeouts (spec.md §4.6, §5). The first two
// repeat discovery's own defaults so a caller configuring a Config
// literal sees every knob in one place.
const (
	DefaultAnnouncePeriod      = 5 * time.Second
	DefaultLeaseDuration       = 100 * time.Second
	DefaultConstructionTimeout = 10 * time.Second
	DefaultShutdownTimeout     = 10 * time.Second
)

// Config bundles everything NewDomainParticipant needs beyond the
// domain id itself. Its zero value is filled in with the defaults
// above, matching the teacher's DiagoOption pattern of "sane defaults,
// options override them" (diago.go's NewDiago).
type Config struct {
	DomainId int

	AnnouncePeriod time.Duration
	LeaseDuration  time.Duration

	// ConstructionTimeout is stored with the rest of the Config;
	// NewDomainParticipant does not read it and starts the discovery
	// goroutine without any start-up timeout.
	ConstructionTimeout time.Duration
	// ShutdownTimeout bounds Close's wait for discovery to dispose and
	// join (spec.md §5 Cancellation).
	ShutdownTimeout time.Duration
}

// ParticipantOption configures a Config, matching the teacher's
// DiagoOption/WithTransport functional-options pattern (diago.go).
type ParticipantOption func(cfg *Config)

// WithAnnouncePeriod overrides the SPDP participant_announce_period
// (spec.md §4.6 default 5s).
func WithAnnouncePeriod(d time.Duration) ParticipantOption {
	return func(cfg *Config) { cfg.AnnouncePeriod = d }
}

// WithLeaseDuration overrides the SPDP lease duration a remote peer
// is expected to honor (spec.md §4.6).
func WithLeaseDuration(d time.Duration) ParticipantOption {
	return func(cfg *Config) { cfg.LeaseDuration = d }
}

// WithConstructionTimeout sets Config.ConstructionTimeout, which
// NewDomainParticipant does not read.
func WithConstructionTimeout(d time.Duration) ParticipantOption {
	return func(cfg *Config) { cfg.ConstructionTimeout = d }
}

// WithShutdownTimeout overrides how long Close waits for discovery to
// dispose-and-join (spec.md §5 Cancellation).
func WithShutdownTimeout(d time.Duration) ParticipantOption {
	return func(cfg *Config) { cfg.ShutdownTimeout = d }
}
