// Package normalize maps per-field extraction output onto a flat, typed offer.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/listing-tracker/internal/crawler"
	"github.com/JakeFAU/listing-tracker/internal/extract"
)

// Field names produced by the detail hierarchies.
const (
	FieldCity            = "city"
	FieldPostalCode      = "postal_code"
	FieldStreet          = "street"
	FieldCoordinates     = "coordinates"
	FieldCharacteristics = "characteristics"
	FieldFeatures        = "features"
	FieldBuildYear       = "build_year"
	FieldDescription     = "description"
	FieldPostedBy        = "posted_by"
	FieldContact         = "contact"
	FieldOwner           = "owner"
	FieldImages          = "images"
)

// Characteristic labels as published by the site.
const (
	labelPrice              = "Cena"
	labelArea               = "Powierzchnia"
	labelPricePerM2         = "cena za metr"
	labelFloors             = "Liczba pięter"
	labelFloor              = "Piętro"
	labelRooms              = "Liczba pokoi"
	labelBuildYear          = "Rok budowy"
	labelBuildingType       = "Rodzaj zabudowy"
	labelBuildingMaterial   = "Materiał budynku"
	labelRent               = "Czynsz"
	labelWindows            = "Okna"
	labelLandArea           = "Powierzchnia działki"
	labelConstructionStatus = "Stan wykończenia"
	labelMarket             = "Rynek"
	labelGroundPlan         = "Rzut mieszkania"
)

// Feature group labels as published by the site.
const (
	groupAdditionalInfo = "Informacje dodatkowe"
	groupMedia          = "Media"
	groupFencing        = "Ogrodzenie"
	groupAccess         = "Dojazd"
	groupHeating        = "Ogrzewanie"
	groupSurroundings   = "Okolica"
	groupSecurity       = "Zabezpieczenia"
	groupEquipment      = "Wyposażenie"
)

// UnknownRooms marks an absent or unparseable room count.
const UnknownRooms = -1

var emptyGroup = json.RawMessage("[]")

// Fields is the extraction output keyed by field name.
type Fields map[string]extract.Value

// FieldCoercionError reports a field that was present but could not be
// coerced. The field is left null (or at its sentinel) and parsing continues.
type FieldCoercionError struct {
	Field string
	Raw   string
	Err   error
}

func (e *FieldCoercionError) Error() string {
	return fmt.Sprintf("coerce %s %q: %v", e.Field, e.Raw, e.Err)
}

func (e *FieldCoercionError) Unwrap() error {
	return e.Err
}

// Normalize builds an offer from extracted fields. The offer status derives
// from statusCode alone. Identity fields (resource, run, version) are left for
// the caller.
func Normalize(fields Fields, statusCode int) (crawler.Offer, []*FieldCoercionError) {
	n := &normalizer{chars: fields[FieldCharacteristics]}
	offer := crawler.Offer{
		Status: crawler.StatusForCode(statusCode),
		Rooms:  UnknownRooms,
	}

	offer.City = n.text(fields[FieldCity].Get("name"))
	offer.PostalCode = n.text(fields[FieldPostalCode])
	offer.Street = ParseStreet(fields[FieldStreet])

	offer.Price = n.float(labelPrice)
	offer.Area = n.float(labelArea)
	offer.PricePerM2 = n.float(labelPricePerM2)
	offer.Rent = n.float(labelRent)
	offer.LandArea = n.float(labelLandArea)
	offer.Floors = n.floor(labelFloors)
	offer.Floor = n.floor(labelFloor)
	if rooms := n.int(labelRooms, n.char(labelRooms)); rooms != nil {
		offer.Rooms = *rooms
	}
	offer.BuildYear = n.int(labelBuildYear, n.char(labelBuildYear))
	if offer.BuildYear == nil {
		offer.BuildYear = n.int(FieldBuildYear, fields[FieldBuildYear])
	}

	offer.BuildingType = n.text(n.char(labelBuildingType))
	offer.BuildingMaterial = n.text(n.char(labelBuildingMaterial))
	offer.Windows = n.text(n.char(labelWindows))
	offer.ConstructionStatus = n.text(n.char(labelConstructionStatus))
	offer.Market = n.text(n.char(labelMarket))
	offer.GroundPlan = n.text(n.char(labelGroundPlan))
	offer.PostedBy = n.text(fields[FieldPostedBy])
	offer.Description = n.text(fields[FieldDescription])
	offer.Coordinates = n.coordinates(fields[FieldCoordinates])

	features := fields[FieldFeatures]
	offer.Features = crawler.FeatureGroups{
		AdditionalInfo: n.blob(FieldFeatures, features.Get(groupAdditionalInfo), emptyGroup),
		Media:          n.blob(FieldFeatures, features.Get(groupMedia), emptyGroup),
		Fencing:        n.blob(FieldFeatures, features.Get(groupFencing), emptyGroup),
		Access:         n.blob(FieldFeatures, features.Get(groupAccess), emptyGroup),
		Heating:        n.blob(FieldFeatures, features.Get(groupHeating), emptyGroup),
		Surroundings:   n.blob(FieldFeatures, features.Get(groupSurroundings), emptyGroup),
		Security:       n.blob(FieldFeatures, features.Get(groupSecurity), emptyGroup),
		Equipment:      n.blob(FieldFeatures, features.Get(groupEquipment), emptyGroup),
	}
	offer.Contact = n.blob(FieldContact, fields[FieldContact], nil)
	offer.Owner = n.blob(FieldOwner, fields[FieldOwner], nil)
	offer.Images = images(fields[FieldImages])

	return offer, n.errs
}

// ParseStreet joins a street map's name and number. A plain string is
// returned as is.
func ParseStreet(v extract.Value) *string {
	switch v.Kind() {
	case extract.KindString:
		return strPtr(v.Text())
	case extract.KindMap:
		name := strings.TrimSpace(v.Get("name").Text())
		if name == "" {
			return nil
		}
		if number := strings.TrimSpace(v.Get("number").Text()); number != "" {
			name += " " + number
		}
		return &name
	default:
		return nil
	}
}

type normalizer struct {
	chars extract.Value
	errs  []*FieldCoercionError
}

func (n *normalizer) char(label string) extract.Value {
	return n.chars.Get(label).Get("value")
}

func (n *normalizer) fail(field string, raw extract.Value, err error) {
	n.errs = append(n.errs, &FieldCoercionError{Field: field, Raw: raw.Text(), Err: err})
}

func (n *normalizer) text(v extract.Value) *string {
	s := strings.TrimSpace(v.Text())
	if s == "" {
		return nil
	}
	return &s
}

func (n *normalizer) float(label string) *float64 {
	v := n.char(label)
	if v.IsNull() {
		return nil
	}
	f, err := parseDecimal(v.Text())
	if err != nil {
		n.fail(label, v, err)
		return nil
	}
	return &f
}

func (n *normalizer) int(field string, v extract.Value) *int {
	if v.IsNull() {
		return nil
	}
	f, err := parseDecimal(v.Text())
	if err != nil {
		n.fail(field, v, err)
		return nil
	}
	i := int(f)
	return &i
}

func (n *normalizer) floor(label string) *int {
	entry := n.chars.Get(label)
	if entry.IsNull() {
		return nil
	}
	for _, key := range []string{"value", "localizedValue"} {
		if idx, ok := ParseFloor(entry.Get(key).Text()); ok {
			return &idx
		}
	}
	n.fail(label, entry.Get("value"), fmt.Errorf("unknown floor label"))
	return nil
}

func (n *normalizer) coordinates(v extract.Value) *crawler.Coordinates {
	if v.IsNull() {
		return nil
	}
	lat, latOK := v.Get("latitude").Float()
	lon, lonOK := v.Get("longitude").Float()
	if !latOK || !lonOK {
		n.fail(FieldCoordinates, v, fmt.Errorf("latitude and longitude must be numeric"))
		return nil
	}
	return &crawler.Coordinates{Lat: lat, Lon: lon}
}

func (n *normalizer) blob(field string, v extract.Value, fallback json.RawMessage) json.RawMessage {
	if v.IsNull() {
		return fallback
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		n.fail(field, v, err)
		return fallback
	}
	return raw
}

func images(v extract.Value) []string {
	var out []string
	for _, item := range v.Items() {
		if s, ok := item.Str(); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDecimal(raw string) (float64, error) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0':
			return -1
		case ',':
			return '.'
		default:
			return r
		}
	}, raw)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse number: %w", err)
	}
	return f, nil
}

func strPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
