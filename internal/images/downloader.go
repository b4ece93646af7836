// Package images downloads the photos referenced by Active offers into the
// artifact store and records one row per resource and image.
package images

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-tracker/internal/crawler"
	"github.com/JakeFAU/listing-tracker/internal/logging"
	"github.com/JakeFAU/listing-tracker/internal/metrics"
	"github.com/JakeFAU/listing-tracker/internal/policy/ratelimit"
	"github.com/JakeFAU/listing-tracker/internal/storage"
)

// hashIDLength is the length of image ids derived from a URL digest.
const hashIDLength = 12

const minTokenLength = 8

// Pacer gates outbound requests.
type Pacer interface {
	Wait(ctx context.Context, class ratelimit.Class) error
}

// Deps are the collaborators of a Downloader. Pacer and Logger may be nil.
type Deps struct {
	Store     crawler.ImageStore
	Artifacts crawler.ArtifactStore
	Fetcher   crawler.Fetcher
	Pacer     Pacer
	Hasher    crawler.Hasher
	Clock     crawler.Clock
	Logger    *zap.Logger
}

// Result summarizes a download pass.
type Result struct {
	Offers  int `json:"offers"`
	Stored  int `json:"stored"`
	Missing int `json:"missing"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Downloader fetches offer images that have no row yet.
type Downloader struct {
	store     crawler.ImageStore
	artifacts crawler.ArtifactStore
	fetcher   crawler.Fetcher
	pacer     Pacer
	hasher    crawler.Hasher
	clock     crawler.Clock
	logger    *zap.Logger
}

// New wires a Downloader.
func New(deps Deps) (*Downloader, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("image store is required")
	case deps.Artifacts == nil:
		return nil, errors.New("artifact store is required")
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Hasher == nil || deps.Clock == nil:
		return nil, errors.New("hasher and clock are required")
	}
	if deps.Pacer == nil {
		deps.Pacer = ratelimit.New(ratelimit.Config{})
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Downloader{
		store:     deps.Store,
		artifacts: deps.Artifacts,
		fetcher:   deps.Fetcher,
		pacer:     deps.Pacer,
		hasher:    deps.Hasher,
		clock:     deps.Clock,
		logger:    logger,
	}, nil
}

// Run downloads the images of every Active offer of entity. An image that
// answers with a non-2xx status or a non-image body is recorded without a
// location and never fetched again. Transport and persistence failures are
// counted and retried on the next pass.
func (d *Downloader) Run(ctx context.Context, entity string) (Result, error) {
	var res Result
	offers, err := d.store.ActiveOffersWithImages(ctx, entity)
	if err != nil {
		return res, fmt.Errorf("list offers with images: %w", err)
	}
	for _, offer := range offers {
		res.Offers++
		logger := logging.ForResource(d.logger, offer.ResourceID)
		for _, link := range offer.Images {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			outcome, err := d.download(ctx, logger, offer.ResourceID, link)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return res, ctxErr
				}
				logger.Warn("image download failed", zap.String("url", link), zap.Error(err))
				outcome = "error"
			}
			metrics.ObserveImage(outcome)
			switch outcome {
			case "stored":
				res.Stored++
			case "missing":
				res.Missing++
			case "skipped":
				res.Skipped++
			default:
				res.Failed++
			}
		}
	}
	d.logger.Info("image pass finished",
		zap.String(logging.KeyEntity, entity),
		zap.Int("offers", res.Offers),
		zap.Int("stored", res.Stored),
		zap.Int("missing", res.Missing),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (d *Downloader) download(ctx context.Context, logger *zap.Logger, resourceID, link string) (string, error) {
	imageID, err := d.ImageID(link)
	if err != nil {
		return "", err
	}
	exists, err := d.store.ImageExists(ctx, resourceID, imageID)
	if err != nil {
		return "", fmt.Errorf("check image %s: %w", imageID, err)
	}
	if exists {
		return "skipped", nil
	}
	if err := d.pacer.Wait(ctx, ratelimit.ClassImage); err != nil {
		return "", err
	}
	resp, err := d.fetcher.Fetch(ctx, crawler.FetchRequest{URL: link})
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}
	metrics.ObserveFetch(link, string(ratelimit.ClassImage), resp.StatusCode, len(resp.Body))

	img := crawler.Image{
		ResourceID: resourceID,
		ImageID:    imageID,
		URL:        link,
		StatusCode: resp.StatusCode,
		CreatedAt:  d.clock.Now(),
	}
	outcome := "missing"
	if ext, ok := imageExtension(resp); ok {
		key, err := d.artifacts.Put(ctx, storage.ImageKey(resourceID, imageID, ext), resp.Body)
		if err != nil {
			return "", fmt.Errorf("store image %s: %w", imageID, err)
		}
		img.Location, img.ContentType = key, resp.ContentType
		outcome = "stored"
	} else {
		logger.Debug("image unavailable",
			zap.String("url", link),
			zap.Int("status", resp.StatusCode),
			zap.String("content_type", resp.ContentType),
		)
	}
	if _, err := d.store.InsertImage(ctx, img); err != nil {
		return "", &crawler.PersistenceError{Op: "insert image", Err: err}
	}
	return outcome, nil
}

// ImageID derives the identity of an image from its URL: the token after the
// last dot of the path, up to the next slash. Tokens shorter than
// minTokenLength, such as a file extension, fall back to a prefix of the URL
// digest.
func (d *Downloader) ImageID(link string) (string, error) {
	if u, err := url.Parse(link); err == nil {
		path := u.EscapedPath()
		if i := strings.LastIndexByte(path, '.'); i >= 0 {
			token, _, _ := strings.Cut(path[i+1:], "/")
			if safeToken(token) {
				return token, nil
			}
		}
	}
	digest, err := d.hasher.Hash([]byte(link))
	if err != nil {
		return "", fmt.Errorf("hash image url: %w", err)
	}
	if len(digest) < hashIDLength {
		return "", fmt.Errorf("image url digest too short: %q", digest)
	}
	return digest[:hashIDLength], nil
}

func safeToken(s string) bool {
	if len(s) < minTokenLength {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// imageExtension reports the file extension for a successful image response.
func imageExtension(resp crawler.FetchResponse) (string, bool) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", false
	}
	mediaType, _, err := mime.ParseMediaType(resp.ContentType)
	if err != nil {
		return "", false
	}
	sub, ok := strings.CutPrefix(mediaType, "image/")
	if !ok || sub == "" {
		return "", false
	}
	sub, _, _ = strings.Cut(sub, "+")
	return sub, true
}
