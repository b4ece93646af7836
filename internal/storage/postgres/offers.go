package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/listing-tracker/internal/crawler"
)

const offerColumns = `resource_id, version, entity, run_id, status, created_at,
city, postal_code, street, price, area, price_per_m2, floors, floor, rooms, build_year,
building_type, building_material, rent, windows, land_area, construction_status, market,
posted_by, description, ground_plan, lat, lon,
additional_info, media, fencing, access, heating, surroundings, security, equipment,
contact, owner, images`

const insertOffer = `INSERT INTO offers (` + offerColumns + `)
VALUES ($1,
	(SELECT COALESCE(MAX(version), 0) + 1 FROM offers WHERE resource_id = $1),
	$2, $3, $38, $4,
	$5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
	$15, $16, $17, $18, $19, $20, $21,
	$22, $23, $24, $25, $26,
	$27, $28, $29, $30, $31, $32, $33, $34,
	$35, $36, $37)
RETURNING version`

// InsertOfferVersion demotes the Active version of the offer and inserts the
// next version with the offer's status, Active when unset, in one transaction.
func (s *Store) InsertOfferVersion(ctx context.Context, offer crawler.Offer) (version int, err error) {
	args, err := offerArgs(offer)
	if err != nil {
		return 0, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin offer tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Serialize writers of the same offer so version numbers never collide.
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, offer.ResourceID); err != nil {
		return 0, fmt.Errorf("lock offer: %w", err)
	}
	if _, err = tx.Exec(ctx, `UPDATE offers SET status = 2 WHERE resource_id = $1 AND status = 1`, offer.ResourceID); err != nil {
		return 0, fmt.Errorf("demote offer: %w", err)
	}
	if err = tx.QueryRow(ctx, insertOffer, args...).Scan(&version); err != nil {
		return 0, fmt.Errorf("insert offer: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit offer tx: %w", err)
	}
	return version, nil
}

func offerArgs(o crawler.Offer) ([]any, error) {
	var lat, lon *float64
	if o.Coordinates != nil {
		lat, lon = &o.Coordinates.Lat, &o.Coordinates.Lon
	}
	var images []byte
	if o.Images != nil {
		var err error
		if images, err = json.Marshal(o.Images); err != nil {
			return nil, fmt.Errorf("marshal images: %w", err)
		}
	}
	status := o.Status
	if status == 0 {
		status = crawler.StatusActive
	}
	f := o.Features
	return []any{
		o.ResourceID, o.Entity, o.RunID, o.CreatedAt,
		o.City, o.PostalCode, o.Street, o.Price, o.Area, o.PricePerM2, o.Floors, o.Floor, o.Rooms, o.BuildYear,
		o.BuildingType, o.BuildingMaterial, o.Rent, o.Windows, o.LandArea, o.ConstructionStatus, o.Market,
		o.PostedBy, o.Description, o.GroundPlan, lat, lon,
		nullJSON(f.AdditionalInfo), nullJSON(f.Media), nullJSON(f.Fencing), nullJSON(f.Access),
		nullJSON(f.Heating), nullJSON(f.Surroundings), nullJSON(f.Security), nullJSON(f.Equipment),
		nullJSON(o.Contact), nullJSON(o.Owner), images,
		int(status),
	}, nil
}

// OfferHistory returns every version of an offer, oldest first.
func (s *Store) OfferHistory(ctx context.Context, resourceID string) ([]crawler.Offer, error) {
	out, err := s.queryOffers(ctx, `SELECT `+offerColumns+` FROM offers_history
WHERE resource_id = $1
ORDER BY most_recent_order DESC`, resourceID)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, crawler.ErrNotFound
	}
	return out, nil
}

// ActiveOffersWithoutAddress returns Active offers of entity with coordinates
// but no stored address for them.
func (s *Store) ActiveOffersWithoutAddress(ctx context.Context, entity string) ([]crawler.Offer, error) {
	return s.queryOffers(ctx, `SELECT `+offerColumns+` FROM offers o
WHERE o.entity = $1 AND o.status = 1 AND o.lat IS NOT NULL AND o.lon IS NOT NULL
AND NOT EXISTS (
	SELECT 1 FROM normalized_addresses a
	WHERE a.resource_id = o.resource_id AND a.lat = o.lat AND a.lon = o.lon
)
ORDER BY o.resource_id`, entity)
}

// ActiveOffersSince returns Active offers created at or after since.
func (s *Store) ActiveOffersSince(ctx context.Context, since time.Time) ([]crawler.Offer, error) {
	return s.queryOffers(ctx, `SELECT `+offerColumns+` FROM offers
WHERE status = 1 AND created_at >= $1
ORDER BY resource_id`, since)
}

func (s *Store) queryOffers(ctx context.Context, query string, args ...any) ([]crawler.Offer, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query offers: %w", err)
	}
	defer rows.Close()
	var out []crawler.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOffer(row pgx.Row) (crawler.Offer, error) {
	var (
		o        crawler.Offer
		status   int16
		lat, lon *float64
		images   []byte
		f        = &o.Features
	)
	err := row.Scan(
		&o.ResourceID, &o.Version, &o.Entity, &o.RunID, &status, &o.CreatedAt,
		&o.City, &o.PostalCode, &o.Street, &o.Price, &o.Area, &o.PricePerM2, &o.Floors, &o.Floor, &o.Rooms, &o.BuildYear,
		&o.BuildingType, &o.BuildingMaterial, &o.Rent, &o.Windows, &o.LandArea, &o.ConstructionStatus, &o.Market,
		&o.PostedBy, &o.Description, &o.GroundPlan, &lat, &lon,
		&f.AdditionalInfo, &f.Media, &f.Fencing, &f.Access, &f.Heating, &f.Surroundings, &f.Security, &f.Equipment,
		&o.Contact, &o.Owner, &images,
	)
	if err != nil {
		return crawler.Offer{}, err
	}
	o.Status = crawler.ResourceStatus(status)
	if lat != nil && lon != nil {
		o.Coordinates = &crawler.Coordinates{Lat: *lat, Lon: *lon}
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &o.Images); err != nil {
			return crawler.Offer{}, errors.Join(errors.New("decode images"), err)
		}
	}
	return o, nil
}

// ActiveOffersWithImages returns Active offers of entity that list images.
func (s *Store) ActiveOffersWithImages(ctx context.Context, entity string) ([]crawler.Offer, error) {
	return s.queryOffers(ctx, `SELECT `+offerColumns+` FROM offers
WHERE entity = $1 AND status = 1 AND images IS NOT NULL AND jsonb_array_length(images) > 0
ORDER BY resource_id`, entity)
}

// ImageExists reports whether the image of a resource was already recorded.
func (s *Store) ImageExists(ctx context.Context, resourceID, imageID string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM images WHERE resource_id = $1 AND image_id = $2)`,
		resourceID, imageID)
}

// InsertImage records img unless the resource already has that image.
func (s *Store) InsertImage(ctx context.Context, img crawler.Image) (bool, error) {
	tag, err := s.pool.Exec(ctx, `INSERT INTO images
(resource_id, image_id, url, status_code, location, content_type, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (resource_id, image_id) DO NOTHING`,
		img.ResourceID, img.ImageID, img.URL, img.StatusCode,
		nullString(img.Location), nullString(img.ContentType), img.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert image: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
