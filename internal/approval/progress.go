package approval

import "math"

// Progress is the completion accounting exposed alongside vote results.
type Progress struct {
	TotalStages     int `json:"total_stages"`
	CompletedStages int `json:"completed_stages"`
	PercentComplete int `json:"percent_complete"`
}

// ComputeProgress counts stages that finished successfully (approved or
// skipped) against the total, rounded to a whole percent. A stage-less
// instance reports 100%.
func ComputeProgress(in *Instance) Progress {
	p := Progress{TotalStages: len(in.Stages)}
	if p.TotalStages == 0 {
		p.PercentComplete = 100
		return p
	}
	for _, st := range in.Stages {
		if st.Status == StageApproved || st.Status == StageSkipped {
			p.CompletedStages++
		}
	}
	p.PercentComplete = int(math.Round(float64(p.CompletedStages) / float64(p.TotalStages) * 100))
	return p
}
