package crawler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ResourceStatus is the lifecycle state of a resource or offer row.
type ResourceStatus int

// Status values persisted in the urls and offers tables.
const (
	StatusActive     ResourceStatus = 1
	StatusHistorical ResourceStatus = 2
)

func (s ResourceStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusHistorical:
		return "historical"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status by name.
func (s ResourceStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the status name or its numeric value.
func (s *ResourceStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("decode resource status: %w", err)
		}
		*s = ResourceStatus(n)
		return nil
	}
	switch name {
	case "active":
		*s = StatusActive
	case "historical":
		*s = StatusHistorical
	default:
		return fmt.Errorf("unknown resource status %q", name)
	}
	return nil
}

// Observation is a resource seen on a listing page during the current run.
type Observation struct {
	ResourceID string
	URL        string
}

// Resource is one row of the resource registry.
type Resource struct {
	ID           string         `json:"id"`
	URL          string         `json:"url"`
	Entity       string         `json:"entity"`
	Status       ResourceStatus `json:"status"`
	CreatedRunID string         `json:"created_run_id"`
	UpdatedRunID string         `json:"updated_run_id,omitempty"`
	ExpiredRunID string         `json:"expired_run_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Run captures the bookkeeping for one orchestrator invocation.
type Run struct {
	ID         string     `json:"id"`
	Entity     string     `json:"entity"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Success    bool       `json:"success"`
}

// Open reports whether the run has not been closed yet.
func (r Run) Open() bool {
	return r.FinishedAt == nil
}

// ErrorStep attributes an audit failure to a processing stage.
type ErrorStep string

// Error steps recorded on audit entries. StepNone means no failure.
const (
	StepNone     ErrorStep = ""
	StepDownload ErrorStep = "download"
	StepParse    ErrorStep = "parse"
	StepStore    ErrorStep = "store"
)

// AuditState is derived from the timestamps and error attribution of an entry.
type AuditState string

// Audit states.
const (
	AuditPending        AuditState = "pending"
	AuditVisited        AuditState = "visited"
	AuditParsed         AuditState = "parsed"
	AuditDownloadFailed AuditState = "download_failed"
	AuditParseFailed    AuditState = "parse_failed"
)

// AuditEntry tracks one resource through one run's download and parse stages.
type AuditEntry struct {
	ID           string     `json:"id"`
	RunID        string     `json:"run_id"`
	ResourceID   string     `json:"resource_id"`
	ArtifactPath string     `json:"artifact_path"`
	CreatedAt    time.Time  `json:"created_at"`
	VisitedAt    *time.Time `json:"visited_at,omitempty"`
	ParsedAt     *time.Time `json:"parsed_at,omitempty"`
	StatusCode   int        `json:"status_code,omitempty"`
	ErrorStep    ErrorStep  `json:"error_step,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// State derives the audit state of the entry.
func (e AuditEntry) State() AuditState {
	switch {
	case e.VisitedAt == nil:
		return AuditPending
	case e.ParsedAt == nil && e.ErrorStep != StepNone:
		return AuditDownloadFailed
	case e.ParsedAt == nil:
		return AuditVisited
	case e.ErrorStep != StepNone:
		return AuditParseFailed
	default:
		return AuditParsed
	}
}

// Coordinates is a latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// String renders the pair as "lat,lon", the form used for dedup keys and map links.
func (c Coordinates) String() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lon, 'f', -1, 64)
}

// MapsURL returns a Google Maps search link for the pair.
func (c Coordinates) MapsURL() string {
	return "https://www.google.com/maps/search/?api=1&query=" + c.String()
}

// FeatureGroups holds the categorized feature lists as ordered JSON blobs.
type FeatureGroups struct {
	AdditionalInfo json.RawMessage `json:"additional_info"`
	Media          json.RawMessage `json:"media"`
	Fencing        json.RawMessage `json:"fencing"`
	Access         json.RawMessage `json:"access"`
	Heating        json.RawMessage `json:"heating"`
	Surroundings   json.RawMessage `json:"surroundings"`
	Security       json.RawMessage `json:"security"`
	Equipment      json.RawMessage `json:"equipment"`
}

// Offer is one version of the normalized record parsed from a resource page.
type Offer struct {
	ResourceID string         `json:"resource_id"`
	Version    int            `json:"version"`
	Entity     string         `json:"entity"`
	RunID      string         `json:"run_id"`
	Status     ResourceStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`

	City               *string      `json:"city,omitempty"`
	PostalCode         *string      `json:"postal_code,omitempty"`
	Street             *string      `json:"street,omitempty"`
	Price              *float64     `json:"price,omitempty"`
	Area               *float64     `json:"area,omitempty"`
	PricePerM2         *float64     `json:"price_per_m2,omitempty"`
	Floors             *int         `json:"floors,omitempty"`
	Floor              *int         `json:"floor,omitempty"`
	Rooms              int          `json:"rooms"`
	BuildYear          *int         `json:"build_year,omitempty"`
	BuildingType       *string      `json:"building_type,omitempty"`
	BuildingMaterial   *string      `json:"building_material,omitempty"`
	Rent               *float64     `json:"rent,omitempty"`
	Windows            *string      `json:"windows,omitempty"`
	LandArea           *float64     `json:"land_area,omitempty"`
	ConstructionStatus *string      `json:"construction_status,omitempty"`
	Market             *string      `json:"market,omitempty"`
	PostedBy           *string      `json:"posted_by,omitempty"`
	Description        *string      `json:"description,omitempty"`
	GroundPlan         *string      `json:"ground_plan,omitempty"`
	Coordinates        *Coordinates `json:"coordinates,omitempty"`

	Features FeatureGroups   `json:"features"`
	Contact  json.RawMessage `json:"contact,omitempty"`
	Owner    json.RawMessage `json:"owner,omitempty"`
	Images   []string        `json:"images,omitempty"`
}

// Address is the reverse-geocoded address derived from an offer's coordinates.
type Address struct {
	ResourceID   string      `json:"resource_id"`
	Coordinates  Coordinates `json:"coordinates"`
	City         string      `json:"city"`
	PostalCode   string      `json:"postal_code"`
	Street       string      `json:"street"`
	StreetNumber string      `json:"street_number"`
	MapsURL      string      `json:"maps_url"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Image is one downloaded offer image. Location is the artifact key, empty
// when the download returned no image.
type Image struct {
	ResourceID  string    `json:"resource_id"`
	ImageID     string    `json:"image_id"`
	URL         string    `json:"url"`
	StatusCode  int       `json:"status_code"`
	Location    string    `json:"location,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation. Non-2xx
// responses are returned as responses, not errors.
type FetchResponse struct {
	URL         string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	ContentType string
	Duration    time.Duration
}
