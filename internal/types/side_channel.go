package types

type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
	TodoCancelled  TodoStatus = "cancelled"
)

type TodoPriority string

const (
	TodoHigh   TodoPriority = "high"
	TodoMedium TodoPriority = "medium"
	TodoLow    TodoPriority = "low"
)

type TodoItem struct {
	ID       string       `json:"id"`
	Content  string       `json:"content"`
	Status   TodoStatus   `json:"status"`
	Priority TodoPriority `json:"priority"`
}

type FileDiff struct {
	File      string `json:"file"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

type TokenUsage struct {
	Input      int `json:"input"`
	Output     int `json:"output"`
	Reasoning  int `json:"reasoning"`
	CacheRead  int `json:"cacheRead"`
	CacheWrite int `json:"cacheWrite"`
}

func (u TokenUsage) Total() int {
	return u.Input + u.Output + u.Reasoning + u.CacheRead + u.CacheWrite
}

type StepCost struct {
	Cost   float64    `json:"cost"`
	Tokens TokenUsage `json:"tokens"`
}

type VCSInfo struct {
	Branch string `json:"branch,omitempty"`
	Dirty  bool   `json:"dirty,omitempty"`
	Ahead  int    `json:"ahead,omitempty"`
	Behind int    `json:"behind,omitempty"`
	PRURL  string `json:"prUrl,omitempty"`
}

type SessionInfo struct {
	ID    string   `json:"id"`
	Title string   `json:"title,omitempty"`
	VCS   *VCSInfo `json:"vcs,omitempty"`
}

// SideChannel holds the per-session values that live outside the message
// list and survive a reload through the session cache.
type SideChannel struct {
	TotalCost     float64      `json:"totalCost"`
	LastStep      *StepCost    `json:"lastStep,omitempty"`
	Todos         []TodoItem   `json:"todos,omitempty"`
	Diffs         []FileDiff   `json:"diffs,omitempty"`
	Title         string       `json:"title,omitempty"`
	Info          *SessionInfo `json:"info,omitempty"`
	SandboxStatus string       `json:"sandboxStatus,omitempty"`
	AgentURL      string       `json:"agentUrl,omitempty"`
	PRURL         string       `json:"prUrl,omitempty"`
}

func (s SideChannel) Clone() SideChannel {
	out := s
	if s.LastStep != nil {
		step := *s.LastStep
		out.LastStep = &step
	}
	if s.Todos != nil {
		out.Todos = append([]TodoItem{}, s.Todos...)
	}
	if s.Diffs != nil {
		out.Diffs = append([]FileDiff{}, s.Diffs...)
	}
	if s.Info != nil {
		info := *s.Info
		if s.Info.VCS != nil {
			vcs := *s.Info.VCS
			info.VCS = &vcs
		}
		out.Info = &info
	}
	return out
}
