package reports

import (
	"fmt"

	"github.com/mmdatafocus/pathway_backend/models"
)

// FreePeriods is ceil(n*0.6) in integer arithmetic.
func FreePeriods(n int) int {
	if n <= 0 {
		return 0
	}
	return (n*3 + 4) / 5
}

// Partition reduces a document to its free preview. It never mutates doc and
// returns the same output for the same input.
func Partition(doc models.Document, entitled bool) models.Document {
	if entitled {
		return doc
	}

	keep := FreePeriods(len(doc.Timeline))
	view := models.Document{
		Overview: doc.Overview,
		Timeline: make([]models.TimelinePeriod, keep),
	}
	copy(view.Timeline, doc.Timeline[:keep])

	shownSteps := 0
	if first, ok := firstPriority(doc.NextSteps); ok {
		view.NextSteps = []models.NextStep{first}
		shownSteps = 1
	} else {
		view.NextSteps = []models.NextStep{}
	}

	view.Locked = &models.LockedSummary{
		PeriodsShown:   keep,
		PeriodsTotal:   len(doc.Timeline),
		NextStepsShown: shownSteps,
		NextStepsTotal: len(doc.NextSteps),
		Teaser:         fmt.Sprintf("%d of %d shown", shownSteps, len(doc.NextSteps)),
	}
	return view
}

// firstPriority picks the lowest Priority value; ties keep list order.
func firstPriority(steps []models.NextStep) (models.NextStep, bool) {
	if len(steps) == 0 {
		return models.NextStep{}, false
	}
	best := 0
	for i := 1; i < len(steps); i++ {
		if steps[i].Priority < steps[best].Priority {
			best = i
		}
	}
	return steps[best], true
}
