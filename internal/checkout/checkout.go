package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/Simplici0/quickprint/internal/api"
	"github.com/Simplici0/quickprint/internal/cart"
	"github.com/Simplici0/quickprint/internal/pricing"
	"github.com/Simplici0/quickprint/internal/session"
)

var (
	ErrUploadFailed     = errors.New("upload failed")
	ErrSubmissionFailed = errors.New("order submission failed")
)

// UploadFailedMessage is shown in the staging slot after a failed upload.
const UploadFailedMessage = "Failed to process file. Please try again."

// Sessions persists session state.
type Sessions interface {
	Create(ctx context.Context) (session.State, error)
	Load(ctx context.Context, id string) (session.State, error)
	Save(ctx context.Context, state session.State) error
}

// Remote is the part of the QuickPrint API a student session uses.
type Remote interface {
	GetPricing(ctx context.Context, shopID int64) (pricing.Table, error)
	Upload(ctx context.Context, fileName string, content io.Reader) (api.UploadResult, error)
	CreateOrder(ctx context.Context, req cart.OrderRequest) (api.Order, error)
}

// Service runs the upload, cart and checkout flow of student sessions.
// Requests for the same session are serialized; different sessions never share state.
type Service struct {
	sessions Sessions
	remote   Remote
	userID   int64
	shopID   int64
	logger   *zap.Logger
	locks    keyedMutex
}

func NewService(sessions Sessions, remote Remote, userID, shopID int64, logger *zap.Logger) *Service {
	return &Service{sessions: sessions, remote: remote, userID: userID, shopID: shopID, logger: logger}
}

// Summary is the session as the cart page renders it. Amounts are display strings.
type Summary struct {
	SessionID     string         `json:"session_id"`
	Staging       cart.Staging   `json:"staging"`
	PreviewPrice  string         `json:"preview_price"`
	CanCommit     bool           `json:"can_commit"`
	Items         cart.Cart      `json:"items"`
	ItemCount     int            `json:"item_count"`
	Total         string         `json:"total"`
	PageUnits     string         `json:"page_units"`
	Pricing       *pricing.Table `json:"pricing"`
	PricingLoaded bool           `json:"pricing_loaded"`
}

// Summarize renders st.
func Summarize(st session.State) Summary {
	items := st.Cart
	if items == nil {
		items = cart.Cart{}
	}
	return Summary{
		SessionID:     st.ID,
		Staging:       st.Staging,
		PreviewPrice:  pricing.Display(st.Staging.PreviewPrice(st.Pricing)),
		CanCommit:     st.Staging.CanCommit(),
		Items:         items,
		ItemCount:     len(items),
		Total:         pricing.Display(st.Total()),
		PageUnits:     humanize.Comma(int64(cart.TotalPageUnits(items))),
		Pricing:       st.Pricing,
		PricingLoaded: st.Pricing != nil,
	}
}

// Open resumes session id, or starts a new session when id is empty, unknown
// or expired. Pricing is fetched for sessions that do not have it yet; a failed
// fetch leaves prices at zero.
func (s *Service) Open(ctx context.Context, id string) (session.State, error) {
	if id != "" {
		st, err := s.update(ctx, id, func(st *session.State) error {
			if st.Pricing == nil {
				s.fetchPricingSoft(ctx, st)
			}
			return nil
		})
		if err == nil {
			return st, nil
		}
		if !errors.Is(err, session.ErrNotFound) {
			return session.State{}, err
		}
	}

	st, err := s.sessions.Create(ctx)
	if err != nil {
		return session.State{}, fmt.Errorf("open session: %w", err)
	}
	s.fetchPricingSoft(ctx, &st)
	if err := s.sessions.Save(context.WithoutCancel(ctx), st); err != nil {
		return session.State{}, fmt.Errorf("open session: %w", err)
	}
	s.logger.Info("session started", zap.String("session_id", st.ID), zap.Bool("pricing_loaded", st.Pricing != nil))
	return st, nil
}

// Summary loads and renders session id.
func (s *Service) Summary(ctx context.Context, id string) (Summary, error) {
	st, err := s.sessions.Load(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(st), nil
}

// LoadPricing fetches the shop's pricing table into the session. A shop without
// a table gets the default rates. On failure the previous table is kept.
// Items already in the cart keep the price they were added at.
func (s *Service) LoadPricing(ctx context.Context, id string) (session.State, error) {
	return s.update(ctx, id, func(st *session.State) error {
		table, err := s.fetchPricing(ctx)
		if err != nil {
			return err
		}
		st.Pricing = &table
		return nil
	})
}

func (s *Service) fetchPricing(ctx context.Context) (pricing.Table, error) {
	table, err := s.remote.GetPricing(ctx, s.shopID)
	switch {
	case errors.Is(err, api.ErrNotFound):
		return pricing.Default(), nil
	case err != nil:
		return pricing.Table{}, fmt.Errorf("load pricing for shop %d: %w", s.shopID, err)
	}
	return table, nil
}

func (s *Service) fetchPricingSoft(ctx context.Context, st *session.State) {
	table, err := s.fetchPricing(ctx)
	if err != nil {
		s.logger.Warn("pricing unavailable", zap.String("session_id", st.ID), zap.Error(err))
		return
	}
	st.Pricing = &table
}

// StageUpload selects fileName into the staging slot and uploads content.
//
// The upload runs without holding the session, so other requests of the
// session proceed meanwhile. Its result is applied only if the slot still
// belongs to the same attempt; otherwise the result is dropped and
// cart.ErrStaleUpload is returned. A failed upload leaves the slot in ERROR
// and returns ErrUploadFailed.
func (s *Service) StageUpload(ctx context.Context, id, fileName string, content io.Reader) (session.State, error) {
	var attempt int64
	if _, err := s.update(ctx, id, func(st *session.State) error {
		staged, err := st.Staging.Select(fileName)
		if err != nil {
			return err
		}
		st.Staging = staged
		attempt = staged.Attempt
		return nil
	}); err != nil {
		return session.State{}, err
	}

	result, uploadErr := s.remote.Upload(ctx, fileName, content)

	st, err := s.update(context.WithoutCancel(ctx), id, func(st *session.State) error {
		var (
			staged cart.Staging
			err    error
		)
		if uploadErr != nil {
			staged, err = st.Staging.UploadFailed(attempt, UploadFailedMessage)
		} else {
			staged, err = st.Staging.UploadSucceeded(attempt, result.FileRef(fileName), result.PageCount)
		}
		if err != nil {
			return err
		}
		st.Staging = staged
		return nil
	})
	if errors.Is(err, cart.ErrStaleUpload) {
		s.logger.Info("discarding stale upload", zap.String("session_id", id), zap.Int64("attempt", attempt))
	}
	if err != nil {
		return st, err
	}

	if uploadErr != nil {
		s.logger.Warn("upload failed", zap.String("session_id", id), zap.String("file", fileName), zap.Error(uploadErr))
		return st, fmt.Errorf("%w: %w", ErrUploadFailed, uploadErr)
	}
	return st, nil
}

// Configure replaces the staged file's job options. Copies below one are raised to one.
func (s *Service) Configure(ctx context.Context, id string, cfg cart.JobConfig) (session.State, error) {
	return s.update(ctx, id, func(st *session.State) error {
		staged, err := st.Staging.Configure(cfg)
		if err != nil {
			return err
		}
		st.Staging = staged
		return nil
	})
}

// ClearStaging empties the staging slot, abandoning any upload in flight.
func (s *Service) ClearStaging(ctx context.Context, id string) (session.State, error) {
	return s.update(ctx, id, func(st *session.State) error {
		st.Staging = st.Staging.Clear()
		return nil
	})
}

// CommitStaged adds the ready staged file to the cart at the current pricing.
func (s *Service) CommitStaged(ctx context.Context, id string) (session.State, cart.Item, error) {
	var added cart.Item
	st, err := s.update(ctx, id, func(st *session.State) error {
		engine := st.Engine()
		next, item, staged, err := st.Staging.Commit(engine, st.Cart, st.Pricing)
		if err != nil {
			return err
		}
		st.Cart, st.Staging, added = next, staged, item
		st.Sync(engine)
		return nil
	})
	return st, added, err
}

// RemoveItem drops item itemID from the cart. Unknown ids are ignored.
func (s *Service) RemoveItem(ctx context.Context, id string, itemID int64) (session.State, error) {
	return s.update(ctx, id, func(st *session.State) error {
		st.Cart = cart.RemoveFromCart(st.Cart, itemID)
		return nil
	})
}

// Submit places the cart as an order. The cart is emptied only after the
// order service accepted it; on failure it is left intact for a retry.
func (s *Service) Submit(ctx context.Context, id string) (session.State, api.Order, error) {
	var placed api.Order
	st, err := s.update(ctx, id, func(st *session.State) error {
		req, err := cart.BuildSubmissionPayload(st.Cart, s.userID, s.shopID)
		if err != nil {
			return err
		}

		order, err := s.remote.CreateOrder(ctx, req)
		if err != nil {
			s.logger.Warn("order submission failed", zap.String("session_id", id), zap.Int("items", len(req.Items)), zap.Error(err))
			return fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
		}

		s.logger.Info("order placed",
			zap.String("session_id", id),
			zap.Int64("order_id", order.ID),
			zap.Int("items", len(req.Items)),
			zap.String("total", pricing.Display(order.TotalAmount)),
		)
		placed = order
		st.Cart = nil
		return nil
	})
	return st, placed, err
}

// update runs fn on the stored state of session id while holding the session
// and saves the result. Nothing is saved when fn fails.
func (s *Service) update(ctx context.Context, id string, fn func(*session.State) error) (session.State, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	st, err := s.sessions.Load(ctx, id)
	if err != nil {
		return session.State{}, err
	}
	if err := fn(&st); err != nil {
		return st, err
	}
	if err := s.sessions.Save(context.WithoutCancel(ctx), st); err != nil {
		return st, err
	}
	return st, nil
}
