package domain

import "time"

// Platform identifies where a video source lives.
type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformTikTok  Platform = "tiktok"
)

var knownPlatforms = map[Platform]bool{
	PlatformYouTube: true,
	PlatformTikTok:  true,
}

func (p Platform) Known() bool { return knownPlatforms[p] }

// SourceStatus is the lifecycle state of an ingested video reference.
type SourceStatus string

const (
	StatusPending SourceStatus = "pending"
	StatusActive  SourceStatus = "active"
	StatusFailed  SourceStatus = "failed"
	StatusRemoved SourceStatus = "removed"
)

// Transitions move forward only; failed->pending is the one allowed
// reactivation, removed is terminal.
var statusTransitions = map[SourceStatus][]SourceStatus{
	StatusPending: {StatusActive, StatusFailed},
	StatusActive:  {StatusFailed, StatusRemoved},
	StatusFailed:  {StatusPending},
	StatusRemoved: {},
}

func (s SourceStatus) Known() bool {
	_, ok := statusTransitions[s]
	return ok
}

// CanTransition reports whether s -> to is a legal status change.
func (s SourceStatus) CanTransition(to SourceStatus) bool {
	for _, t := range statusTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

type Source struct {
	ID           int64
	PlaceID      int64
	Title        *string
	ThumbnailURL *string
	URL          string
	Platform     Platform
	Status       SourceStatus
	CreatedAt    time.Time
}

func (s Source) Validate() error {
	if s.PlaceID <= 0 {
		return Invalidf("source requires an owning place id")
	}
	if s.URL == "" {
		return Invalidf("source url is required")
	}
	if !s.Platform.Known() {
		return Invalidf("unknown platform %q", s.Platform)
	}
	if !s.Status.Known() {
		return Invalidf("unknown status %q", s.Status)
	}
	return nil
}

// ChangeKind classifies a source mutation for the aggregation engine.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeStatus ChangeKind = "status"
	ChangeDelete ChangeKind = "delete"
)

// SourceChange is emitted by the source store after every successful
// mutation. It carries just enough for incremental count maintenance.
type SourceChange struct {
	PlaceID int64
	Kind    ChangeKind
	From    SourceStatus // zero value for creates
	To      SourceStatus // zero value for deletes
}
