package notify

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-tracker/internal/crawler"
	"github.com/JakeFAU/listing-tracker/internal/logging"
	"github.com/JakeFAU/listing-tracker/internal/metrics"
)

// OfferSource lists recently stored Active offers.
type OfferSource interface {
	ActiveOffersSince(ctx context.Context, since time.Time) ([]crawler.Offer, error)
}

// Filter selects the offers worth a notification. Zero values disable a bound.
type Filter struct {
	Entities []string
	MaxPrice float64
	MinRooms int
	MinArea  float64
}

// Match reports whether o passes every configured bound. Offers missing a
// bounded field do not match.
func (f Filter) Match(o crawler.Offer) bool {
	if len(f.Entities) > 0 && !slices.Contains(f.Entities, o.Entity) {
		return false
	}
	if f.MaxPrice > 0 && (o.Price == nil || *o.Price > f.MaxPrice) {
		return false
	}
	if f.MinRooms > 0 && o.Rooms < f.MinRooms {
		return false
	}
	if f.MinArea > 0 && (o.Area == nil || *o.Area < f.MinArea) {
		return false
	}
	return true
}

// Result summarizes a watchdog pass.
type Result struct {
	Matched int `json:"matched"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Watchdog notifies recipients about offers stored within a time window.
type Watchdog struct {
	offers     OfferSource
	notifier   crawler.Notifier
	backend    string
	recipients []string
	filter     Filter
	clock      crawler.Clock
	logger     *zap.Logger
}

// NewWatchdog builds a Watchdog. backend labels the notification metrics.
func NewWatchdog(
	offers OfferSource,
	notifier crawler.Notifier,
	backend string,
	recipients []string,
	filter Filter,
	clock crawler.Clock,
	logger *zap.Logger,
) (*Watchdog, error) {
	if offers == nil || notifier == nil || clock == nil {
		return nil, fmt.Errorf("watchdog requires an offer source, a notifier and a clock")
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("notify.recipients must not be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Watchdog{
		offers:     offers,
		notifier:   notifier,
		backend:    backend,
		recipients: recipients,
		filter:     filter,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Run sends one message per matching offer and recipient. Delivery failures
// are counted and logged; only listing failures are returned.
func (w *Watchdog) Run(ctx context.Context, window time.Duration) (Result, error) {
	var res Result
	since := w.clock.Now().Add(-window)
	offers, err := w.offers.ActiveOffersSince(ctx, since)
	if err != nil {
		return res, fmt.Errorf("list offers since %s: %w", since.Format(time.RFC3339), err)
	}
	for _, offer := range offers {
		if !w.filter.Match(offer) {
			continue
		}
		res.Matched++
		msg := Message(offer)
		for _, recipient := range w.recipients {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			id, err := w.notifier.Send(ctx, msg, recipient)
			metrics.ObserveNotification(w.backend, err)
			if err != nil {
				res.Failed++
				logging.ForResource(w.logger, offer.ResourceID).Warn("notification failed",
					zap.String("recipient", recipient),
					zap.Error(err),
				)
				continue
			}
			res.Sent++
			logging.ForResource(w.logger, offer.ResourceID).Info("notification sent", zap.String("message_id", id))
		}
	}
	return res, nil
}

// Message renders the notification text for an offer.
func Message(o crawler.Offer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New %s offer %s", o.Entity, o.ResourceID)
	var parts []string
	if o.Price != nil {
		parts = append(parts, formatNumber(*o.Price)+" PLN")
	}
	if o.Area != nil {
		parts = append(parts, formatNumber(*o.Area)+" m2")
	}
	if o.Rooms > 0 {
		parts = append(parts, strconv.Itoa(o.Rooms)+" rooms")
	}
	var place []string
	if o.Street != nil && *o.Street != "" {
		place = append(place, *o.Street)
	}
	if o.City != nil && *o.City != "" {
		place = append(place, *o.City)
	}
	if len(place) > 0 {
		parts = append(parts, strings.Join(place, ", "))
	}
	if len(parts) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(parts, "; "))
	}
	return b.String()
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
