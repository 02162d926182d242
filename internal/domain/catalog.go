package domain

import "time"

// MilestoneCategory groups catalog milestones by journey phase.
type MilestoneCategory string

const (
	// MilestonePickup covers cargo collection checkpoints.
	MilestonePickup MilestoneCategory = "PICKUP"
	// MilestoneDeparture covers flight departure checkpoints.
	MilestoneDeparture MilestoneCategory = "DEPARTURE"
	// MilestoneTransit covers intermediate movement checkpoints.
	MilestoneTransit MilestoneCategory = "TRANSIT"
	// MilestoneArrival covers station arrival checkpoints.
	MilestoneArrival MilestoneCategory = "ARRIVAL"
	// MilestoneCustoms covers customs processing checkpoints.
	MilestoneCustoms MilestoneCategory = "CUSTOMS"
	// MilestoneDelivery covers final delivery checkpoints.
	MilestoneDelivery MilestoneCategory = "DELIVERY"
)

// Milestone is static reference data describing a journey checkpoint.
type Milestone struct {
	Code             string            `json:"code"`
	Name             string            `json:"name"`
	Category         MilestoneCategory `json:"category"`
	SequenceOrder    int               `json:"sequenceOrder"`
	Critical         bool              `json:"critical"`
	ExpectedDuration time.Duration     `json:"expectedDuration,omitempty"`
	SLAThreshold     time.Duration     `json:"slaThreshold,omitempty"`
}

// SourceType enumerates upstream tracking data providers.
type SourceType string

const (
	// SourceIndustryFeed is the standardized external tracking data feed.
	SourceIndustryFeed SourceType = "INDUSTRY_FEED"
	// SourceCarrier is a carrier API integration.
	SourceCarrier SourceType = "CARRIER"
	// SourceCustoms is a customs authority integration.
	SourceCustoms SourceType = "CUSTOMS"
	// SourceGroundHandler is a ground handling agent integration.
	SourceGroundHandler SourceType = "GROUND_HANDLER"
	// SourceManual is operator-entered data.
	SourceManual SourceType = "MANUAL"
)

// Source is reference data describing one upstream provider. Lower priority
// numbers take precedence when two sources supply the same logical event.
type Source struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Type     SourceType `json:"type"`
	Priority int        `json:"priority"`
	Active   bool       `json:"active"`
}
