package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/apperr"
	"github.com/pesio-ai/be-plt-approvals/internal/approval"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// ── fakes ─────────────────────────────────────────────────────────────────────

// recordingNotifier collects sent notifications. Injected per test so tests
// can run in parallel without cross-contamination.
type recordingNotifier struct {
	mu      sync.Mutex
	sent    []Notification
	optOuts map[string]bool // principalID + "/" + type
	sendErr error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{optOuts: map[string]bool{}}
}

func (n *recordingNotifier) Send(ctx context.Context, notif Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return n.sendErr
	}
	n.sent = append(n.sent, notif)
	return nil
}

func (n *recordingNotifier) SendMany(ctx context.Context, ns []Notification) error {
	for _, notif := range ns {
		if err := n.Send(ctx, notif); err != nil {
			return err
		}
	}
	return nil
}

func (n *recordingNotifier) IsOptedOut(ctx context.Context, principalID string, t NotificationType) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.optOuts[principalID+"/"+string(t)]
}

func (n *recordingNotifier) byType(t NotificationType) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notification
	for _, notif := range n.sent {
		if notif.Type == t {
			out = append(out, notif)
		}
	}
	return out
}

// fakeResolver resolves explicit and role selectors from a fixed role map.
type fakeResolver struct {
	roles map[string][]string
}

func (r *fakeResolver) Resolve(ctx context.Context, sel approval.ApproverSelector, rctx ResolveContext) ([]string, error) {
	switch sel.Type {
	case approval.SelectorExplicit:
		return sel.Principals, nil
	case approval.SelectorRole:
		return r.roles[sel.Role], nil
	}
	return nil, errors.New("unsupported selector in test")
}

func (r *fakeResolver) Matches(ctx context.Context, principalID string, sel approval.ApproverSelector, rctx ResolveContext) (bool, error) {
	resolved, err := r.Resolve(ctx, sel, rctx)
	if err != nil {
		return false, err
	}
	for _, p := range resolved {
		if p == principalID {
			return true, nil
		}
	}
	return false, nil
}

// failingSaveRepo fails every save while serving reads from the wrapped
// repository.
type failingSaveRepo struct {
	Repository
}

func (r *failingSaveRepo) Save(ctx context.Context, in *approval.Instance) (*approval.Instance, error) {
	return nil, errors.New("disk on fire")
}

func (r *failingSaveRepo) SaveWithReference(ctx context.Context, in *approval.Instance, ref string) (*approval.Instance, error) {
	return nil, errors.New("disk on fire")
}

// ── fixtures ──────────────────────────────────────────────────────────────────

func reviewPolicy() *approval.Policy {
	return &approval.Policy{
		ID:         "po-review",
		Name:       "Purchase order review",
		EntityType: "purchase_order",
		Priority:   10,
		RequiredStages: []approval.StageTemplate{
			{
				Name:     "manager-review",
				Selector: approval.ApproverSelector{Type: approval.SelectorExplicit, Principals: []string{"manager"}},
				Rule:     approval.VotingRule{Type: approval.RuleAny},
			},
			{
				Name:     "finance-review",
				Selector: approval.ApproverSelector{Type: approval.SelectorExplicit, Principals: []string{"vp", "cfo"}},
				Rule:     approval.VotingRule{Type: approval.RuleThreshold, Threshold: 1},
			},
		},
	}
}

// seedInstance stores a two-stage instance with the first stage active and
// returns its ID.
func seedInstance(t *testing.T, repo Repository) string {
	t.Helper()
	now := time.Now()
	inst := approval.NewInstance(reviewPolicy(), "purchase_order", "PO-1001", "dave", nil, now)
	inst.ID = "ap-1"
	require.NoError(t, inst.ActivateStage(0, []string{"manager"}, now))
	_, err := repo.SaveWithReference(context.Background(), inst, "PO-1001")
	require.NoError(t, err)
	return inst.ID
}

func newVoteService(repo Repository, notifier Notifier) *VoteService {
	return NewVoteService(
		repo,
		&fakeResolver{},
		notifier,
		repository.NewMemoryAuditLog(),
		zerolog.Nop(),
	)
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestProcessVoteEndToEnd(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	notifier := newRecordingNotifier()
	svc := newVoteService(repo, notifier)
	id := seedInstance(t, repo)

	// Manager approves: stage 1 closes, stage 2 activates with its own
	// approver snapshot.
	receipt, err := svc.ProcessVote(ctx, id, "manager", approval.DecisionApprove, "")
	require.NoError(t, err)
	assert.False(t, receipt.IsComplete)
	assert.Equal(t, approval.StageApproved, receipt.Approval.Stages[0].Status)
	assert.Equal(t, approval.StageActive, receipt.Approval.Stages[1].Status)
	assert.Equal(t, []string{"vp", "cfo"}, receipt.Approval.Stages[1].Approvers)
	assert.Equal(t, 50, receipt.Progress.PercentComplete)

	// VP approves: threshold(1) met, instance completes.
	receipt, err = svc.ProcessVote(ctx, id, "vp", approval.DecisionApprove, "")
	require.NoError(t, err)
	assert.True(t, receipt.IsComplete)
	assert.True(t, receipt.WasApproved)
	assert.False(t, receipt.WasRejected)
	assert.Equal(t, approval.StatusApproved, receipt.Approval.Status)
	assert.Equal(t, 100, receipt.Progress.PercentComplete)

	// vote_recorded goes to watchers minus the voter.
	recorded := notifier.byType(NotifyVoteRecorded)
	require.Len(t, recorded, 2)
	assert.NotContains(t, recorded[0].Recipients, "manager")
	assert.Contains(t, recorded[0].Recipients, "dave")
	assert.NotContains(t, recorded[1].Recipients, "vp")

	// approval_complete includes the voter.
	complete := notifier.byType(NotifyApprovalComplete)
	require.Len(t, complete, 1)
	assert.ElementsMatch(t, []string{"dave", "manager", "vp", "cfo"}, complete[0].Recipients)
}

func TestProcessVoteRejectionShortCircuits(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	notifier := newRecordingNotifier()
	svc := newVoteService(repo, notifier)
	id := seedInstance(t, repo)

	receipt, err := svc.ProcessVote(ctx, id, "manager", approval.DecisionReject, "over budget")
	require.NoError(t, err)
	assert.True(t, receipt.IsComplete)
	assert.True(t, receipt.WasRejected)
	assert.Equal(t, approval.StatusRejected, receipt.Approval.Status)
	assert.Equal(t, approval.StagePending, receipt.Approval.Stages[1].Status)
}

func TestProcessVoteNotFound(t *testing.T) {
	svc := newVoteService(repository.NewMemoryRepository(), newRecordingNotifier())
	_, err := svc.ProcessVote(context.Background(), "missing", "manager", approval.DecisionApprove, "")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestProcessVoteNotAuthorized(t *testing.T) {
	repo := repository.NewMemoryRepository()
	svc := newVoteService(repo, newRecordingNotifier())
	id := seedInstance(t, repo)

	_, err := svc.ProcessVote(context.Background(), id, "mallory", approval.DecisionApprove, "")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotAuthorized, apperr.CodeOf(err))
	assert.Contains(t, err.Error(), "not an approver on the active stage")
}

func TestProcessVoteInvalidDecision(t *testing.T) {
	repo := repository.NewMemoryRepository()
	svc := newVoteService(repo, newRecordingNotifier())
	id := seedInstance(t, repo)

	_, err := svc.ProcessVote(context.Background(), id, "manager", approval.Decision("maybe"), "")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidDecision, apperr.CodeOf(err))
}

func TestProcessVoteSaveFailureLeavesInstanceUnchanged(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	id := seedInstance(t, repo)

	svc := newVoteService(&failingSaveRepo{Repository: repo}, newRecordingNotifier())
	_, err := svc.ProcessVote(ctx, id, "manager", approval.DecisionApprove, "")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeSaveFailed, apperr.CodeOf(err))

	// The failed vote must not be visible on a re-read.
	stored, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, stored.Stages[0].Votes)
	assert.Equal(t, approval.StatusPending, stored.Status)
}

func TestProcessVoteNotificationFailureDoesNotFailVote(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	notifier := newRecordingNotifier()
	notifier.sendErr = errors.New("broker down")
	svc := newVoteService(repo, notifier)
	id := seedInstance(t, repo)

	receipt, err := svc.ProcessVote(ctx, id, "manager", approval.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, approval.StageApproved, receipt.Approval.Stages[0].Status)
}

func TestProcessVoteSkipsOptedOutRecipients(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	notifier := newRecordingNotifier()
	notifier.optOuts["dave/"+string(NotifyVoteRecorded)] = true
	svc := newVoteService(repo, notifier)
	id := seedInstance(t, repo)

	_, err := svc.ProcessVote(ctx, id, "manager", approval.DecisionApprove, "")
	require.NoError(t, err)

	recorded := notifier.byType(NotifyVoteRecorded)
	require.Len(t, recorded, 1)
	assert.NotContains(t, recorded[0].Recipients, "dave")
}

func TestGetCapabilities(t *testing.T) {
	repo := repository.NewMemoryRepository()
	svc := newVoteService(repo, newRecordingNotifier())
	id := seedInstance(t, repo)

	caps, err := svc.GetCapabilities(context.Background(), id, "manager")
	require.NoError(t, err)
	assert.True(t, caps.CanApprove)

	caps, err = svc.GetCapabilities(context.Background(), id, "vp")
	require.NoError(t, err)
	assert.False(t, caps.CanApprove)
	assert.NotEmpty(t, caps.DenialReasons)

	_, err = svc.GetCapabilities(context.Background(), "missing", "manager")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}
