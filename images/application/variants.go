package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"sync"
	"time"

	"imagevault/images/domain"

	"github.com/rs/zerolog/log"

	"golang.org/x/image/draw"
)

const (
	defaultVariantWorkers = 4
	variantQueueSize      = 256
	jpegQuality           = 85
)

type variantJob struct {
	imageID string
	kind    domain.VariantKind
	spec    domain.VariantSpec
}

// VariantGenerator derives resized renderings of stored images on a fixed
// worker pool. Submission is fire-and-forget: callers never observe
// generation errors, and a reader that finds no variant falls back to the
// original bytes.
type VariantGenerator struct {
	images   domain.ImageRepository
	variants domain.VariantRepository

	jobs chan variantJob
	wg   sync.WaitGroup

	pending sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewVariantGenerator starts workers goroutines consuming the job queue.
func NewVariantGenerator(images domain.ImageRepository, variants domain.VariantRepository, workers int) *VariantGenerator {
	if workers <= 0 {
		workers = defaultVariantWorkers
	}

	g := &VariantGenerator{
		images:   images,
		variants: variants,
		jobs:     make(chan variantJob, variantQueueSize),
	}

	for i := 0; i < workers; i++ {
		g.wg.Add(1)
		go g.worker()
	}

	return g
}

// Submit queues a generation job. When the queue is saturated the job is
// dropped with a warning; a dropped variant is regenerable on demand and the
// reader fallback keeps serving the original meanwhile.
func (g *VariantGenerator) Submit(imageID string, kind domain.VariantKind, spec domain.VariantSpec) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}

	g.pending.Add(1)
	select {
	case g.jobs <- variantJob{imageID: imageID, kind: kind, spec: spec}:
	default:
		g.pending.Done()
		log.Warn().
			Str("image_id", imageID).
			Str("kind", string(kind)).
			Msg("Variant queue full, dropping generation job")
	}
}

// Flush blocks until every accepted job has been processed.
func (g *VariantGenerator) Flush() {
	g.pending.Wait()
}

// Close stops accepting jobs, drains the queue and waits for the workers.
func (g *VariantGenerator) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	close(g.jobs)
	g.mu.Unlock()

	g.wg.Wait()
	return nil
}

func (g *VariantGenerator) worker() {
	defer g.wg.Done()

	for job := range g.jobs {
		g.process(job)
		g.pending.Done()
	}
}

// process generates a single variant. Failures are logged, never returned:
// a decode or encode error records a failed row so the state is
// inspectable, and a write against a deleted image is dropped silently.
func (g *VariantGenerator) process(job variantJob) {
	ctx := context.Background()

	img, err := g.images.GetImage(ctx, job.imageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Debug().
				Str("image_id", job.imageID).
				Str("kind", string(job.kind)).
				Msg("Image deleted before variant generation, skipping")
			return
		}
		log.Error().Err(err).
			Str("image_id", job.imageID).
			Str("kind", string(job.kind)).
			Msg("Failed to load image for variant generation")
		return
	}

	if !resizableMimeType(img.MimeType) {
		log.Debug().
			Str("image_id", job.imageID).
			Str("mime_type", img.MimeType).
			Msg("Source format has no encoder, skipping variant generation")
		return
	}

	content, width, height, err := renderVariant(img.Content, img.MimeType, job.spec)
	if err != nil {
		log.Error().Err(err).
			Str("image_id", job.imageID).
			Str("kind", string(job.kind)).
			Msg("Variant generation failed")
		g.recordFailure(ctx, job)
		return
	}

	v := &domain.Variant{
		ImageID:   job.imageID,
		Kind:      job.kind,
		Width:     width,
		Height:    height,
		Content:   content,
		Status:    domain.VariantStatusReady,
		CreatedAt: time.Now().UTC(),
	}

	if err := g.variants.UpsertVariant(ctx, v); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Image deleted while we were rendering; nothing to store
			log.Debug().
				Str("image_id", job.imageID).
				Str("kind", string(job.kind)).
				Msg("Image deleted during variant generation, dropping result")
			return
		}
		log.Error().Err(err).
			Str("image_id", job.imageID).
			Str("kind", string(job.kind)).
			Msg("Failed to store variant")
		return
	}

	log.Debug().
		Str("image_id", job.imageID).
		Str("kind", string(job.kind)).
		Int("width", width).
		Int("height", height).
		Msg("Variant generated")
}

func (g *VariantGenerator) recordFailure(ctx context.Context, job variantJob) {
	v := &domain.Variant{
		ImageID:   job.imageID,
		Kind:      job.kind,
		Width:     job.spec.Width,
		Height:    job.spec.Height,
		Content:   []byte{},
		Status:    domain.VariantStatusFailed,
		CreatedAt: time.Now().UTC(),
	}

	if err := g.variants.UpsertVariant(ctx, v); err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Error().Err(err).
			Str("image_id", job.imageID).
			Str("kind", string(job.kind)).
			Msg("Failed to record variant failure")
	}
}

// renderVariant decodes, scales to fit the spec's bounding box preserving
// aspect ratio (never upscaling), and re-encodes.
func renderVariant(content []byte, mimeType string, spec domain.VariantSpec) ([]byte, int, int, error) {
	src, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode source image: %w", err)
	}

	bounds := src.Bounds()
	width, height := fitWithin(bounds.Dx(), bounds.Dy(), spec.Width, spec.Height)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if mimeType == "image/jpeg" {
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality})
	} else {
		err = png.Encode(&buf, dst)
	}
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to encode variant: %w", err)
	}

	return buf.Bytes(), width, height, nil
}

// fitWithin computes the largest size that fits the bounding box while
// preserving the source aspect ratio. Sources smaller than the box keep
// their size.
func fitWithin(srcW, srcH, boxW, boxH int) (int, int) {
	if srcW <= boxW && srcH <= boxH {
		return srcW, srcH
	}

	scaleW := float64(boxW) / float64(srcW)
	scaleH := float64(boxH) / float64(srcH)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}

	w := int(float64(srcW) * scale)
	h := int(float64(srcH) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// resizableMimeType reports whether the engine can decode and re-encode the
// format. SVG is vector and WebP has no stdlib encoder; both fall back to
// serving the original.
func resizableMimeType(mimeType string) bool {
	switch mimeType {
	case "image/jpeg", "image/png", "image/gif":
		return true
	}
	return false
}
