package finalize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	_ "image/jpeg"

	"github.com/rs/zerolog"

	"cardsmith/internal/domain"
	"cardsmith/internal/providers/backend"
)

const (
	defaultCaption  = "Scan to view online"
	defaultTimeout  = 30 * time.Second
	maxDownloadSize = 32 << 20
)

// CardStore is the slice of the backend client the pipeline needs.
type CardStore interface {
	StoreCard(ctx context.Context, req backend.StoreCardRequest) (string, error)
	UploadAsset(ctx context.Context, key, mime string, data []byte) (string, error)
}

// Options configures a Pipeline.
type Options struct {
	Store      CardStore
	HTTPClient *http.Client
	Logger     zerolog.Logger
	// Caption is printed under the scan code. Empty selects the default.
	Caption string
	// BrandMark, when set, is drawn over the center of the scan code. The
	// medium error-correction level absorbs the obscured modules.
	BrandMark image.Image
}

// Pipeline binds a completed card to its shareable identity: it stores the
// card to obtain the canonical share URL, then stamps a scan code carrying
// that URL onto the back cover. The share URL is always obtained first so
// the stamped code can never reference anything but the canonical link.
//
// Every step degrades gracefully. A storage failure returns the card
// untouched; a stamping failure returns it with the share URL but the
// original back cover. Finalization never fails a job.
type Pipeline struct {
	store     CardStore
	client    *http.Client
	logger    zerolog.Logger
	caption   string
	brandMark image.Image
}

// NewPipeline constructs a Pipeline with sane defaults.
func NewPipeline(opts Options) *Pipeline {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	caption := opts.Caption
	if caption == "" {
		caption = defaultCaption
	}
	return &Pipeline{
		store:     opts.Store,
		client:    client,
		logger:    opts.Logger,
		caption:   caption,
		brandMark: opts.BrandMark,
	}
}

// Finalize runs the share-then-stamp sequence for one card.
func (p *Pipeline) Finalize(ctx context.Context, card domain.Card) domain.Card {
	shareURL, err := p.store.StoreCard(ctx, backend.StoreCardRequest{
		Prompt:           card.Prompt,
		FrontCover:       card.FrontCoverURL,
		BackCover:        card.BackCoverURL,
		LeftPage:         card.LeftInteriorURL,
		RightPage:        card.RightInteriorURL,
		GeneratedPrompts: card.GeneratedPrompts,
	})
	if err != nil {
		p.logger.Warn().Err(fmt.Errorf("%w: store card: %v", domain.ErrFinalization, err)).
			Str("card_id", card.ID).
			Msg("card kept without share identity")
		return card
	}
	card.ShareURL = shareURL

	stampedURL, err := p.stampAndUpload(ctx, card)
	if err != nil {
		p.logger.Warn().Err(fmt.Errorf("%w: %v", domain.ErrFinalization, err)).
			Str("card_id", card.ID).
			Msg("back cover kept without scan code")
		return card
	}
	card.BackCoverURL = stampedURL
	return card
}

func (p *Pipeline) stampAndUpload(ctx context.Context, card domain.Card) (string, error) {
	src, err := p.fetchImage(ctx, card.BackCoverURL)
	if err != nil {
		return "", fmt.Errorf("download back cover: %w", err)
	}
	stamped, err := stampBackCover(src, card.ShareURL, p.caption, p.brandMark)
	if err != nil {
		return "", fmt.Errorf("stamp back cover: %w", err)
	}
	key := fmt.Sprintf("cards/%s/back-cover.png", card.ID)
	url, err := p.store.UploadAsset(ctx, key, "image/png", stamped)
	if err != nil {
		return "", fmt.Errorf("upload stamped cover: %w", err)
	}
	return url, nil
}

func (p *Pipeline) fetchImage(ctx context.Context, rawURL string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
