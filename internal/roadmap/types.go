package roadmap

import "time"

// Ring names used by the upstream feed. RingRetirement is the entry whose
// date backs the retirement-date filters.
const (
	RingPreview             = "Preview"
	RingTargetedRelease     = "Targeted Release"
	RingGeneralAvailability = "General Availability"
	RingRetirement          = "Retirement"
)

// Rings lists every known availability ring.
var Rings = []string{
	RingPreview,
	RingTargetedRelease,
	RingGeneralAvailability,
	RingRetirement,
}

// KnownRing reports whether name is a member of the ring enumeration.
func KnownRing(name string) bool {
	for _, r := range Rings {
		if r == name {
			return true
		}
	}
	return false
}

// RingEntry is one availability milestone: a ring name and its (possibly
// unannounced) date.
type RingEntry struct {
	Ring string     `json:"ring"`
	Date *time.Time `json:"date"`
}

// Update represents one upstream roadmap item.
type Update struct {
	ID                string      `json:"id"`
	Title             string      `json:"title"`
	Description       string      `json:"description"` // HTML as published upstream
	DescriptionText   string      `json:"descriptionText,omitempty"`
	Status            *string     `json:"status"`
	Locale            *string     `json:"locale"`
	Created           time.Time   `json:"created"`
	Modified          time.Time   `json:"modified"`
	Tags              []string    `json:"tags"`
	ProductCategories []string    `json:"productCategories"`
	Products          []string    `json:"products"`
	Rings             []RingEntry `json:"availabilityRings"`
}

// RetirementDate returns the date of the update's Retirement ring entry,
// or nil when no retirement has been announced.
func (u *Update) RetirementDate() *time.Time {
	for _, r := range u.Rings {
		if r.Ring == RingRetirement {
			return r.Date
		}
	}
	return nil
}

// HasRing reports whether any entry of the availability timeline uses the
// given ring name.
func (u *Update) HasRing(name string) bool {
	for _, r := range u.Rings {
		if r.Ring == name {
			return true
		}
	}
	return false
}
