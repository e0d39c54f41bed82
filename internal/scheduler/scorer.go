package scheduler

import (
	"time"

	"github.com/taskmesh/taskmesh/internal/model"
)

// ScorerConfig tunes the composite priority score. The zero value is usable,
// every field falls back to the defaults below.
type ScorerConfig struct {
	// Weights of the five score components. They should sum to 1.
	PriorityWeight float64
	AgeWeight      float64
	DeadlineWeight float64
	BlockerWeight  float64
	RetryWeight    float64

	// AgeCeiling is the wait time at which the age component saturates.
	AgeCeiling time.Duration
	// UrgencyWindow is how close to its deadline a task must be before the
	// deadline component starts rising and the urgency boost kicks in.
	UrgencyWindow time.Duration
	// StarvationLimit is the wait time past which the starvation floor applies.
	StarvationLimit time.Duration
	// BlockerCeiling is the downstream blocker count at which the blocker
	// component saturates.
	BlockerCeiling int
	// UrgencyBoost multiplies the score of tasks inside the urgency window.
	UrgencyBoost float64
	// StarvationFloor is the minimum score of a starved task.
	StarvationFloor float64
}

func (c *ScorerConfig) defaults() {
	if c.PriorityWeight == 0 {
		c.PriorityWeight = 0.45
	}
	if c.AgeWeight == 0 {
		c.AgeWeight = 0.20
	}
	if c.DeadlineWeight == 0 {
		c.DeadlineWeight = 0.15
	}
	if c.BlockerWeight == 0 {
		c.BlockerWeight = 0.15
	}
	if c.RetryWeight == 0 {
		c.RetryWeight = 0.05
	}
	if c.AgeCeiling == 0 {
		c.AgeCeiling = time.Hour
	}
	if c.UrgencyWindow == 0 {
		c.UrgencyWindow = 15 * time.Minute
	}
	if c.StarvationLimit == 0 {
		c.StarvationLimit = 2 * time.Hour
	}
	if c.BlockerCeiling == 0 {
		c.BlockerCeiling = 10
	}
	if c.UrgencyBoost == 0 {
		c.UrgencyBoost = 1.25
	}
	if c.StarvationFloor == 0 {
		c.StarvationFloor = 0.6
	}
}

var priorityScore = map[model.Priority]float64{
	model.PriorityCritical: 1.0,
	model.PriorityHigh:     0.75,
	model.PriorityMedium:   0.5,
	model.PriorityLow:      0.25,
}

// Scorer computes the composite scheduling score of a task. Scores are
// recomputed from current state on every read, nothing is cached.
type Scorer struct {
	cfg ScorerConfig
}

// NewScorer creates a new scorer.
func NewScorer(cfg ScorerConfig) *Scorer {
	cfg.defaults()
	return &Scorer{cfg: cfg}
}

// Score returns the composite score of a task at the given instant. blockers
// is the number of other live tasks waiting on this one.
func (s *Scorer) Score(task model.Task, blockers int, now time.Time) float64 {
	score := s.cfg.PriorityWeight*priorityScore[task.Priority] +
		s.cfg.AgeWeight*s.ageNorm(task, now) +
		s.cfg.DeadlineWeight*s.deadlineNorm(task, now) +
		s.cfg.BlockerWeight*s.blockerNorm(blockers) +
		s.cfg.RetryWeight*retryPenalty(task)

	if s.urgent(task, now) {
		score *= s.cfg.UrgencyBoost
	}
	if s.starved(task, now) && score < s.cfg.StarvationFloor {
		score = s.cfg.StarvationFloor
	}

	return score
}

// Starved reports whether the task has waited past the starvation limit.
func (s *Scorer) Starved(task model.Task, now time.Time) bool { return s.starved(task, now) }

func (s *Scorer) ageNorm(task model.Task, now time.Time) float64 {
	age := now.Sub(task.CreatedAt)
	if age <= 0 {
		return 0
	}
	if age >= s.cfg.AgeCeiling {
		return 1
	}
	return float64(age) / float64(s.cfg.AgeCeiling)
}

func (s *Scorer) deadlineNorm(task model.Task, now time.Time) float64 {
	if task.Deadline == nil {
		return 0
	}
	slack := task.Deadline.Sub(now)
	if slack <= 0 {
		return 1
	}
	if slack >= s.cfg.UrgencyWindow {
		return 0
	}
	return 1 - float64(slack)/float64(s.cfg.UrgencyWindow)
}

func (s *Scorer) blockerNorm(blockers int) float64 {
	if blockers <= 0 {
		return 0
	}
	if blockers >= s.cfg.BlockerCeiling {
		return 1
	}
	return float64(blockers) / float64(s.cfg.BlockerCeiling)
}

// retryPenalty decays toward 0 as a task burns through its retry budget, so
// repeatedly failing work stops crowding out fresh work.
func retryPenalty(task model.Task) float64 {
	maxRetries := task.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	p := 1 - float64(task.RetryCount)/float64(maxRetries)
	if p < 0 {
		return 0
	}
	return p
}

func (s *Scorer) urgent(task model.Task, now time.Time) bool {
	return task.Deadline != nil && task.Deadline.Sub(now) < s.cfg.UrgencyWindow
}

func (s *Scorer) starved(task model.Task, now time.Time) bool {
	return now.Sub(task.CreatedAt) > s.cfg.StarvationLimit
}
