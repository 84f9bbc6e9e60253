package jobrun

const (
	WorkflowName = "slide_summary_job"
	ActivityTick = "slide_summary_job_tick"
)

// TickResult is the job row as seen after one activity tick.
type TickResult struct {
	JobKey   string `json:"job_key"`
	Status   string `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Attempts int    `json:"attempts"`
	Terminal bool   `json:"terminal"`
	Ran      bool   `json:"ran"`
	Error    string `json:"error,omitempty"`
}
