package cart

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/quickprint/internal/pricing"
)

var (
	ErrUploadInFlight = errors.New("an upload is already in progress")
	ErrNotReady       = errors.New("no uploaded file is ready to add")
	ErrNothingStaged  = errors.New("no file is staged")
	ErrStaleUpload    = errors.New("upload result no longer matches the staged file")
)

// StageState is the lifecycle state of the staging slot.
type StageState string

const (
	StageEmpty     StageState = "EMPTY"
	StageUploading StageState = "UPLOADING"
	StageReady     StageState = "READY"
	StageFailed    StageState = "ERROR"
)

// Staging is the single file being configured before it is added to the cart.
//
// Attempt identifies the current upload. It increases on every selection and
// survives resets, so results of an abandoned upload never match a later one.
type Staging struct {
	State     StageState `json:"state"`
	FileName  string     `json:"file_name,omitempty"`
	File      FileRef    `json:"file"`
	PageCount int        `json:"page_count"`
	Config    JobConfig  `json:"config"`
	Error     string     `json:"error,omitempty"`
	Attempt   int64      `json:"attempt"`
}

// NewStaging returns an empty slot with default job options.
func NewStaging() Staging {
	return Staging{State: StageEmpty, PageCount: 1, Config: DefaultJobConfig()}
}

func (s Staging) reset() Staging {
	next := NewStaging()
	next.Attempt = s.Attempt
	return next
}

// Select stages a newly chosen file and starts a new upload attempt.
// A selection while another upload is in flight is rejected.
func (s Staging) Select(fileName string) (Staging, error) {
	if s.State == StageUploading {
		return s, ErrUploadInFlight
	}

	s.State = StageUploading
	s.FileName = fileName
	s.File = FileRef{}
	s.PageCount = 1
	s.Error = ""
	s.Attempt++
	return s, nil
}

// UploadSucceeded records the stored file for attempt. A missing page count counts as one page.
func (s Staging) UploadSucceeded(attempt int64, file FileRef, pageCount int) (Staging, error) {
	if s.State != StageUploading || s.Attempt != attempt {
		return s, ErrStaleUpload
	}

	if file.Name == "" {
		file.Name = s.FileName
	}
	if pageCount < 1 {
		pageCount = 1
	}

	s.State = StageReady
	s.File = file
	s.PageCount = pageCount
	return s, nil
}

// UploadFailed moves the slot to ERROR, keeping the selected file name so the
// failure stays visible until the user retries or clears it.
func (s Staging) UploadFailed(attempt int64, message string) (Staging, error) {
	if s.State != StageUploading || s.Attempt != attempt {
		return s, ErrStaleUpload
	}

	s.State = StageFailed
	s.Error = message
	return s, nil
}

// Configure replaces the job options of a staged file.
func (s Staging) Configure(cfg JobConfig) (Staging, error) {
	if s.State == StageEmpty {
		return s, ErrNothingStaged
	}
	s.Config = cfg.Normalize()
	return s, nil
}

// PreviewPrice is the price the staged file would be added at. It is zero until the upload is ready.
func (s Staging) PreviewPrice(table *pricing.Table) decimal.Decimal {
	if s.State != StageReady {
		return decimal.Zero
	}
	return ComputeItemPrice(s.PageCount, s.Config.Copies, s.Config.IsColor, s.Config.IsDuplex, table)
}

// CanCommit reports whether the staged file may be added to the cart.
func (s Staging) CanCommit() bool {
	return s.State == StageReady
}

// Commit adds the staged file to c and resets the slot to its empty defaults.
func (s Staging) Commit(e *Engine, c Cart, table *pricing.Table) (Cart, Item, Staging, error) {
	if !s.CanCommit() {
		return c, Item{}, s, ErrNotReady
	}

	next, item := e.AddToCart(c, s.File, s.PageCount, s.Config, table)
	return next, item, s.reset(), nil
}

// Clear drops whatever is staged, including a failed or in-flight upload.
func (s Staging) Clear() Staging {
	return s.reset()
}
