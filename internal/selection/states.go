package selection

import (
	"sync"

	"github.com/livinlefevreloca/treeherd/internal/model"
)

// State is the interface that all selection states implement
type State interface {
	Name() string
}

// StateRecorder tracks state transitions for testing
type StateRecorder struct {
	mu   sync.Mutex
	path []string
}

func NewStateRecorder() *StateRecorder {
	return &StateRecorder{path: make([]string, 0)}
}

func (r *StateRecorder) Record(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.path = append(r.path, state.Name())
}

func (r *StateRecorder) Path() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.path...)
}

func (r *StateRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.path = r.path[:0]
}

// UnselectedState - no selection token in the location
type UnselectedState struct{}

func (s *UnselectedState) Name() string { return "unselected" }
func (s *UnselectedState) ToResolvingLocal(token model.Token, raw string) *ResolvingLocalState {
	return &ResolvingLocalState{Token: token, Raw: raw}
}
func (s *UnselectedState) ToNotFound(raw string) *NotFoundState {
	return &NotFoundState{Raw: raw}
}

// ResolvingLocalState - looking the token up in the job index
type ResolvingLocalState struct {
	Token model.Token
	Raw   string
}

func (s *ResolvingLocalState) Name() string { return "resolving_local" }
func (s *ResolvingLocalState) ToResolvedLocal(job model.Job) *ResolvedLocalState {
	return &ResolvedLocalState{Job: job}
}
func (s *ResolvingLocalState) ToResolvingRemote() *ResolvingRemoteState {
	return &ResolvingRemoteState{Token: s.Token, Raw: s.Raw}
}
func (s *ResolvingLocalState) ToUnselected() *UnselectedState {
	return &UnselectedState{}
}

// ResolvedLocalState - the selected job is in the loaded range
type ResolvedLocalState struct {
	Job model.Job
}

func (s *ResolvedLocalState) Name() string { return "resolved_local" }

// ResolvingRemoteState - asking the backend whether the job exists at all
type ResolvingRemoteState struct {
	Token model.Token
	Raw   string
}

func (s *ResolvingRemoteState) Name() string { return "resolving_remote" }
func (s *ResolvingRemoteState) ToResolvedLocal(job model.Job) *ResolvedLocalState {
	return &ResolvedLocalState{Job: job}
}
func (s *ResolvingRemoteState) ToUnselected() *UnselectedState {
	return &UnselectedState{}
}
func (s *ResolvingRemoteState) ToNotFound() *NotFoundState {
	return &NotFoundState{Token: s.Token, Raw: s.Raw}
}

// NotFoundState - the job does not exist, or the token was unreadable
type NotFoundState struct {
	Token model.Token
	Raw   string
}

func (s *NotFoundState) Name() string { return "not_found" }
func (s *NotFoundState) ToUnselected() *UnselectedState {
	return &UnselectedState{}
}
