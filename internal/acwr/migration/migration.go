package migration

import (
	"time"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/calc"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/integrity"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled:
		return st, nil
	default:
		return "", acwrerr.NewValidation("status", "unknown migration status %q", s)
	}
}

const (
	DefaultBatchSize = 1000
	MaxBatchSize     = 10000
	// keep persisted batch results small
	maxFailuresPerBatch = 20
)

// Request starts a recalculation of every recorded day in [From, To] under
// one configuration, either for one user or for all users assigned to it.
type Request struct {
	UserID          int64           `json:"userId"`
	All             bool            `json:"all"`
	ConfigurationID int64           `json:"configurationId"`
	From            time.Time       `json:"from"`
	To              time.Time       `json:"to"`
	BatchSize       int             `json:"batchSize"`
	ValidationLevel integrity.Level `json:"validationLevel"`
	StartedBy       string          `json:"startedBy"`
}

func (r *Request) normalize(defaultLevel integrity.Level) error {
	if r.All == (r.UserID > 0) {
		return acwrerr.NewValidation("user_id", "exactly one of user_id or all must be set")
	}
	if r.UserID < 0 {
		return acwrerr.NewValidation("user_id", "must be positive, got %d", r.UserID)
	}
	if r.ConfigurationID <= 0 {
		return acwrerr.NewValidation("configuration_id", "must be positive")
	}
	if r.From.IsZero() || r.To.IsZero() {
		return acwrerr.NewValidation("from", "date range is required")
	}
	r.From, r.To = calc.Day(r.From), calc.Day(r.To)
	if r.To.Before(r.From) {
		return acwrerr.NewValidation("to", "must not be before from")
	}
	if r.BatchSize == 0 {
		r.BatchSize = DefaultBatchSize
	}
	if r.BatchSize < 1 || r.BatchSize > MaxBatchSize {
		return acwrerr.NewValidation("batch_size", "must be within [1, %d], got %d", MaxBatchSize, r.BatchSize)
	}
	if r.ValidationLevel == "" {
		r.ValidationLevel = defaultLevel
	}
	level, err := integrity.ParseLevel(string(r.ValidationLevel))
	if err != nil {
		return err
	}
	r.ValidationLevel = level
	if r.StartedBy == "" {
		return acwrerr.NewValidation("started_by", "must not be empty")
	}
	return nil
}

type BatchResult struct {
	BatchID     int                         `json:"batchId"`
	Items       int                         `json:"items"`
	Successful  int                         `json:"successful"`
	Failed      int                         `json:"failed"`
	Skipped     int                         `json:"skipped"`
	Failures    []string                    `json:"failures,omitempty"`
	Validation  *integrity.ValidationResult `json:"validation,omitempty"`
	DurationMs  int64                       `json:"durationMs"`
	CompletedAt time.Time                   `json:"completedAt"`
}

// Cursor is the last processed work item.
type Cursor struct {
	UserID int64     `json:"userId"`
	Date   time.Time `json:"date"`
}

func (c *Cursor) covers(userID int64, date time.Time) bool {
	if c == nil {
		return false
	}
	if userID != c.UserID {
		return userID < c.UserID
	}
	return !date.After(c.Date)
}

type Migration struct {
	ID                     string          `json:"id"`
	UserID                 int64           `json:"userId,omitempty"`
	All                    bool            `json:"all"`
	ConfigurationID        int64           `json:"configurationId"`
	From                   time.Time       `json:"from"`
	To                     time.Time       `json:"to"`
	BatchSize              int             `json:"batchSize"`
	ValidationLevel        integrity.Level `json:"validationLevel"`
	Status                 Status          `json:"status"`
	CurrentBatch           int             `json:"currentBatch"`
	TotalBatches           int             `json:"totalBatches"`
	ProcessedActivities    int             `json:"processedActivities"`
	SuccessfulCalculations int             `json:"successfulCalculations"`
	FailedCalculations     int             `json:"failedCalculations"`
	SkippedCalculations    int             `json:"skippedCalculations"`
	BatchResults           []BatchResult   `json:"batchResults"`
	Cursor                 *Cursor         `json:"cursor,omitempty"`
	Error                  string          `json:"error,omitempty"`
	Frozen                 bool            `json:"frozen"`
	FrozenReason           string          `json:"frozenReason,omitempty"`
	StartedBy              string          `json:"startedBy"`
	CreatedAt              time.Time       `json:"createdAt"`
	UpdatedAt              time.Time       `json:"updatedAt"`
	CompletedAt            *time.Time      `json:"completedAt,omitempty"`
}

func (m *Migration) Clone() *Migration {
	c := *m
	c.BatchResults = make([]BatchResult, len(m.BatchResults))
	for i, br := range m.BatchResults {
		c.BatchResults[i] = br
		c.BatchResults[i].Failures = append([]string(nil), br.Failures...)
		if br.Validation != nil {
			v := *br.Validation
			v.Errors = append([]string(nil), v.Errors...)
			v.Warnings = append([]string(nil), v.Warnings...)
			c.BatchResults[i].Validation = &v
		}
	}
	if m.Cursor != nil {
		cur := *m.Cursor
		c.Cursor = &cur
	}
	if m.CompletedAt != nil {
		t := *m.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
