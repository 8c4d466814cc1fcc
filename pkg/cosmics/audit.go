package cosmics

import (
	"errors"
	"fmt"

	"ccdreduce/internal/models"
	"ccdreduce/internal/monitoring"
)

// Decision is the verdict on a frame with a suspicious number of flags
type Decision int

const (
	// Keep leaves the frame's flags as detected
	Keep Decision = iota
	// Reset clears every flag in the frame
	Reset
)

func (d Decision) String() string {
	switch d {
	case Keep:
		return "keep"
	case Reset:
		return "reset"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// FrameReview is what a decision provider is shown for one suspect frame
type FrameReview struct {
	Frame  int
	Count  int
	Median float64
	Ratio  float64

	// Mask is the mask under audit, for display only
	Mask *models.Mask
}

// DecisionFunc decides the fate of one suspect frame. Returning an error
// stops the audit; prompt.ErrAborted is passed through unchanged.
type DecisionFunc func(FrameReview) (Decision, error)

// KeepAll accepts every suspect frame as detected
func KeepAll(FrameReview) (Decision, error) { return Keep, nil }

// ResetAll clears every suspect frame
func ResetAll(FrameReview) (Decision, error) { return Reset, nil }

// ErrNoDecision is returned by a Scripted provider that has run out of answers
var ErrNoDecision = errors.New("no scripted decision left")

// Scripted answers with the given decisions in order
func Scripted(decisions ...Decision) DecisionFunc {
	next := 0
	return func(r FrameReview) (Decision, error) {
		if next >= len(decisions) {
			return Keep, fmt.Errorf("frame %d: %w", r.Frame, ErrNoDecision)
		}
		d := decisions[next]
		next++
		return d, nil
	}
}

// AuditReport summarises an audit
type AuditReport struct {
	Counts      []int
	MedianCount float64
	Clip        float64
	Suspects    []int
	Reset       []int
}

// FrameCounts counts the flagged pixels of every frame
func FrameCounts(mask *models.Mask) []int {
	return mask.Counts()
}

// MedianCount is the median per-frame count, 1 when the median is 0 so
// that ratios stay finite
func MedianCount(counts []int) float64 {
	values := make([]float64, len(counts))
	for i, c := range counts {
		values[i] = float64(c)
	}
	m := median(values)
	if m == 0 || len(values) == 0 {
		return 1
	}
	return m
}

// Suspects lists the frames whose count exceeds clip times the median count
func Suspects(counts []int, clip float64) []int {
	limit := clip * MedianCount(counts)
	var frames []int
	for f, c := range counts {
		if float64(c) > limit {
			frames = append(frames, f)
		}
	}
	return frames
}

// Audit asks decide about every suspect frame and clears the frames it
// resets. The counts and median are taken once before any reset, and the
// audit can only remove flags.
func Audit(mask *models.Mask, clip float64, decide DecisionFunc) (*AuditReport, error) {
	counts := FrameCounts(mask)
	report := &AuditReport{
		Counts:      counts,
		MedianCount: MedianCount(counts),
		Clip:        clip,
		Suspects:    Suspects(counts, clip),
	}

	frameSize := mask.FrameSize()
	monitoring.Logf("Median number of cosmics per frame = %.0f (%.3f%%)",
		report.MedianCount, 100*report.MedianCount/float64(max(frameSize, 1)))

	for _, f := range report.Suspects {
		review := FrameReview{
			Frame:  f,
			Count:  counts[f],
			Median: report.MedianCount,
			Ratio:  float64(counts[f]) / report.MedianCount,
			Mask:   mask,
		}
		monitoring.Logf("Frame %d has %.2fX the median number of cosmics, somethings up", f+1, review.Ratio)

		decision, err := decide(review)
		if err != nil {
			return nil, fmt.Errorf("audit of frame %d: %w", f, err)
		}
		if decision == Reset {
			mask.ClearFrame(f)
			report.Reset = append(report.Reset, f)
			monitoring.Logf("Reset frame %d", f+1)
		}
	}

	return report, nil
}
