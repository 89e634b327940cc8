package quotedesk

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotedesk/quotedesk/model"
)

func TestTranslateRemoteStatus(t *testing.T) {
	tests := map[int]model.CanonicalStatus{
		1:  model.StatusPending,
		2:  model.StatusApproved,
		3:  model.StatusRejected,
		4:  model.StatusCancelled,
		6:  model.StatusCancelled,
		7:  model.StatusCancelled,
		10: model.StatusApproved,
	}
	for code, want := range tests {
		got, ok := TranslateRemoteStatus(code)
		assert.True(t, ok, "code %d", code)
		assert.Equal(t, want, got, "code %d", code)
	}
	_, ok := TranslateRemoteStatus(5)
	assert.False(t, ok)
}

func TestScenarioD42_ExternalApprovalCallback(t *testing.T) {
	tc := newTestCore(t, true)
	ctx := context.Background()
	d42 := tc.newQuote(t)

	ref, err := tc.Service().SubmitForApproval(ctx, d42.QuoteID)
	require.NoError(t, err)
	require.Equal(t, model.ProviderExternal, ref.Provider)

	callback := approvalXML("ev-1", ref.InstanceID, RemoteStatusApproved)
	require.NoError(t, tc.Pipeline().Accept(ctx, tc.signed(t, callback)))

	stored := tc.quote(t, d42.QuoteID)
	assert.Equal(t, model.LifecycleApproved, stored.Status)
	assert.Equal(t, model.ApprovalApproved, stored.ApprovalStatus)
	require.NotNil(t, stored.ApprovedAt)
	approvedAt := *stored.ApprovedAt

	// redelivery of the identical callback
	require.NoError(t, tc.Pipeline().Accept(ctx, tc.signed(t, callback)))
	again := tc.quote(t, d42.QuoteID)
	assert.Equal(t, stored.Pair(), again.Pair())
	assert.True(t, approvedAt.Equal(*again.ApprovedAt))
	assert.Len(t, tc.ds.eventsFor(ref.InstanceID), 1)

	outcome, err := tc.Pipeline().Process(ctx, model.CallbackEvent{EventID: "ev-1", InstanceID: ref.InstanceID, RemoteStatus: 2})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeDuplicate, outcome)
}

func TestScenarioUnknownInstance(t *testing.T) {
	tc := newTestCore(t, true)
	ctx := context.Background()
	quotes := []*model.Quote{tc.newQuote(t), tc.newQuote(t)}
	_, err := tc.Service().SubmitForApproval(ctx, quotes[0].QuoteID)
	require.NoError(t, err)

	require.NoError(t, tc.Pipeline().Accept(ctx, tc.signed(t, approvalXML("ev-x", "R-unknown", RemoteStatusApproved))))

	orphans, err := tc.ds.ListOrphanEvents(ctx, "R-unknown")
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, model.OutcomeOrphan, orphans[0].Outcome)
	assert.Empty(t, orphans[0].QuoteID)

	assert.Equal(t, model.ApprovalPending, tc.quote(t, quotes[0].QuoteID).ApprovalStatus)
	assert.Equal(t, model.ApprovalNotSubmitted, tc.quote(t, quotes[1].QuoteID).ApprovalStatus)
	for _, q := range quotes {
		report, err := tc.Synchronizer().CheckStatusConsistency(ctx, q.QuoteID)
		require.NoError(t, err)
		assert.True(t, report.Consistent)
	}
}

func TestScenarioIntegrityFailure(t *testing.T) {
	tc := newTestCore(t, true)
	ctx := context.Background()
	q := tc.newQuote(t)
	ref, err := tc.Service().SubmitForApproval(ctx, q.QuoteID)
	require.NoError(t, err)

	req := tc.signed(t, approvalXML("ev-forged", ref.InstanceID, RemoteStatusApproved))
	req.Signature = "0000000000000000000000000000000000000000"

	err = tc.Pipeline().Accept(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIntegrity))

	assert.Empty(t, tc.ds.eventsFor(ref.InstanceID))
	assert.Equal(t, model.ApprovalPending, tc.quote(t, q.QuoteID).ApprovalStatus)
	require.Len(t, tc.alerts, 1)
	assert.True(t, errors.Is(tc.alerts[0], ErrIntegrity))

	// a verified but irrelevant event is not an error
	assert.NoError(t, tc.Pipeline().Accept(ctx, tc.signed(t, approvalXML("ev-other", "R-unknown", RemoteStatusApproved))))
}

func TestTerminalInstanceIgnoresLaterEvents(t *testing.T) {
	tc := newTestCore(t, true)
	ctx := context.Background()
	q := tc.newQuote(t)
	ref, err := tc.Service().SubmitForApproval(ctx, q.QuoteID)
	require.NoError(t, err)

	outcome, err := tc.Pipeline().Process(ctx, model.CallbackEvent{EventID: "ev-a", InstanceID: ref.InstanceID, RemoteStatus: RemoteStatusApproved, Actor: "bob"})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApplied, outcome)

	outcome, err = tc.Pipeline().Process(ctx, model.CallbackEvent{EventID: "ev-b", InstanceID: ref.InstanceID, RemoteStatus: RemoteStatusRejected})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeIgnored, outcome)

	// a late pending event after the terminal one is ignored too
	outcome, err = tc.Pipeline().Process(ctx, model.CallbackEvent{EventID: "ev-c", InstanceID: ref.InstanceID, RemoteStatus: RemoteStatusPending})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeIgnored, outcome)

	stored := tc.quote(t, q.QuoteID)
	assert.Equal(t, model.ApprovalApproved, stored.ApprovalStatus)
	assert.Equal(t, "bob", stored.ApprovedBy)
	assert.Len(t, tc.ds.eventsFor(ref.InstanceID), 3)
}

func TestTerminalInstanceDoesNotOverrideLaterInternalRound(t *testing.T) {
	tc := newTestCore(t, true)
	ctx := context.Background()
	q := tc.newQuote(t)

	ref, err := tc.Service().SubmitForApproval(ctx, q.QuoteID)
	require.NoError(t, err)
	require.NoError(t, tc.Pipeline().Accept(ctx, tc.signed(t, approvalXML("ev-1", ref.InstanceID, RemoteStatusRejected))))
	require.Equal(t, model.ApprovalRejected, tc.quote(t, q.QuoteID).ApprovalStatus)

	tc.External().SetEnabled(false)
	next, err := tc.Service().SubmitForApproval(ctx, q.QuoteID)
	require.NoError(t, err)
	require.Equal(t, model.ProviderInternal, next.Provider)

	res, err := tc.Service().Approve(ctx, q.QuoteID, "u1", "")
	require.NoError(t, err)
	require.Equal(t, model.ProviderInternal, res.Provider)

	// the remote system re-sends the old rejection under a new event id
	require.NoError(t, tc.Pipeline().Accept(ctx, tc.signed(t, approvalXML("ev-2", ref.InstanceID, RemoteStatusRejected))))

	stored := tc.quote(t, q.QuoteID)
	assert.Equal(t, model.LifecycleApproved, stored.Status)
	assert.Equal(t, model.ApprovalApproved, stored.ApprovalStatus)
	assert.NotNil(t, stored.ApprovedAt)
	assert.Equal(t, "u1", stored.ApprovedBy)

	events := tc.ds.eventsFor(ref.InstanceID)
	require.Len(t, events, 2)
	assert.Equal(t, model.OutcomeIgnored, events[1].Outcome)
}

func TestSupersededInstanceDoesNotTouchQuote(t *testing.T) {
	tc := newTestCore(t, true)
	ctx := context.Background()
	q := tc.newQuote(t)
	tc.remote.nextIDs = []string{"sp-old", "sp-new"}

	_, err := tc.Service().SubmitForApproval(ctx, q.QuoteID)
	require.NoError(t, err)
	_, err = tc.Pipeline().Process(ctx, model.CallbackEvent{EventID: "ev-1", InstanceID: "sp-old", RemoteStatus: RemoteStatusCancelled})
	require.NoError(t, err)

	_, err = tc.Service().SubmitForApproval(ctx, q.QuoteID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalPending, tc.quote(t, q.QuoteID).ApprovalStatus)

	// the old instance is terminal and closed, even for its own status
	outcome, err := tc.Pipeline().Process(ctx, model.CallbackEvent{EventID: "ev-2", InstanceID: "sp-old", RemoteStatus: RemoteStatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeIgnored, outcome)
	assert.Equal(t, model.ApprovalPending, tc.quote(t, q.QuoteID).ApprovalStatus)

	outcome, err = tc.Pipeline().Process(ctx, model.CallbackEvent{EventID: "ev-3", InstanceID: "sp-new", RemoteStatus: RemoteStatusApproved})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApplied, outcome)
	assert.Equal(t, model.ApprovalApproved, tc.quote(t, q.QuoteID).ApprovalStatus)
}

func TestUnmappedRemoteStatusIsJournaled(t *testing.T) {
	tc := newTestCore(t, true)
	ctx := context.Background()
	q := tc.newQuote(t)
	ref, err := tc.Service().SubmitForApproval(ctx, q.QuoteID)
	require.NoError(t, err)

	outcome, err := tc.Pipeline().Process(ctx, model.CallbackEvent{EventID: "ev-odd", InstanceID: ref.InstanceID, RemoteStatus: 5})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeIgnored, outcome)
	assert.Equal(t, model.ApprovalPending, tc.quote(t, q.QuoteID).ApprovalStatus)

	events := tc.ds.eventsFor(ref.InstanceID)
	require.Len(t, events, 1)
	assert.Equal(t, q.QuoteID, events[0].QuoteID)
}

func TestVerifyURL(t *testing.T) {
	tc := newTestCore(t, true)
	ctx := context.Background()

	envelope, sig, err := tc.crypter.EncryptMessage([]byte("echo-1234"), "1714557600", "n1")
	require.NoError(t, err)
	var env struct {
		Encrypt string `xml:"Encrypt"`
	}
	require.NoError(t, xml.Unmarshal(envelope, &env))

	plain, err := tc.Pipeline().VerifyURL(ctx, sig, "1714557600", "n1", env.Encrypt)
	require.NoError(t, err)
	assert.Equal(t, "echo-1234", string(plain))

	_, err = tc.Pipeline().VerifyURL(ctx, "bad", "1714557600", "n1", env.Encrypt)
	assert.True(t, errors.Is(err, ErrIntegrity))

	unconfigured := NewEventPipeline(nil, tc.ds, tc.Synchronizer())
	_, err = unconfigured.VerifyURL(ctx, sig, "1714557600", "n1", env.Encrypt)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

type fakeEnqueuer struct {
	events []model.CallbackEvent
	err    error
}

func (f *fakeEnqueuer) EnqueueCallback(_ context.Context, event model.CallbackEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func TestAccept_Queued(t *testing.T) {
	tc := newTestCore(t, true)
	ctx := context.Background()
	q := tc.newQuote(t)
	ref, err := tc.Service().SubmitForApproval(ctx, q.QuoteID)
	require.NoError(t, err)

	queue := &fakeEnqueuer{}
	tc.Pipeline().UseQueue(queue)

	require.NoError(t, tc.Pipeline().Accept(ctx, tc.signed(t, approvalXML("ev-q", ref.InstanceID, RemoteStatusApproved))))
	require.Len(t, queue.events, 1)
	assert.Equal(t, model.ApprovalPending, tc.quote(t, q.QuoteID).ApprovalStatus, "queued events are applied by the worker")

	payload, err := json.Marshal(queue.events[0])
	require.NoError(t, err)
	require.NoError(t, tc.Pipeline().HandleCallbackTask(ctx, asynq.NewTask("approval_callbacks", payload)))
	assert.Equal(t, model.ApprovalApproved, tc.quote(t, q.QuoteID).ApprovalStatus)

	// an id conflict means the event is already queued
	queue.err = asynq.ErrTaskIDConflict
	assert.NoError(t, tc.Pipeline().Accept(ctx, tc.signed(t, approvalXML("ev-q", ref.InstanceID, RemoteStatusApproved))))

	err = tc.Pipeline().HandleCallbackTask(ctx, asynq.NewTask("approval_callbacks", []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestAccept_QueueFailureFallsBackInline(t *testing.T) {
	tc := newTestCore(t, true)
	ctx := context.Background()
	q := tc.newQuote(t)
	ref, err := tc.Service().SubmitForApproval(ctx, q.QuoteID)
	require.NoError(t, err)

	tc.Pipeline().UseQueue(&fakeEnqueuer{err: errors.New("redis down")})
	require.NoError(t, tc.Pipeline().Accept(ctx, tc.signed(t, approvalXML("ev-i", ref.InstanceID, RemoteStatusRejected))))
	assert.Equal(t, model.ApprovalRejected, tc.quote(t, q.QuoteID).ApprovalStatus)
}

func TestOrphanJournaledAfterReplayIsAdopted(t *testing.T) {
	tc := newTestCore(t, true)
	ctx := context.Background()
	q := tc.newQuote(t)
	tc.remote.nextIDs = []string{"sp-race"}

	// the submission commits its mapping and replays orphans between the
	// event's mapping lookup and its journal insert
	tc.ds.onMappingMiss = func() {
		_, err := tc.Service().SubmitForApproval(ctx, q.QuoteID)
		require.NoError(t, err)
	}

	outcome, err := tc.Pipeline().Process(ctx, model.CallbackEvent{EventID: "ev-race", InstanceID: "sp-race", RemoteStatus: RemoteStatusApproved, Actor: "carol"})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApplied, outcome)

	stored := tc.quote(t, q.QuoteID)
	assert.Equal(t, model.ApprovalApproved, stored.ApprovalStatus)
	assert.Equal(t, "carol", stored.ApprovedBy)

	orphans, err := tc.ds.ListOrphanEvents(ctx, "sp-race")
	require.NoError(t, err)
	assert.Empty(t, orphans)

	events := tc.ds.eventsFor("sp-race")
	require.Len(t, events, 1)
	assert.Equal(t, q.QuoteID, events[0].QuoteID)
	assert.Equal(t, model.OutcomeApplied, events[0].Outcome)
}

func TestReplayOrphans_UnreadablePayload(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	tc := newTestCore(t, true)
	ctx := context.Background()
	q := tc.newQuote(t)
	tc.remote.nextIDs = []string{"sp-raw"}

	inserted, err := tc.ds.RecordEvent(ctx, model.ApprovalEvent{
		EventID:      "ev-raw",
		InstanceID:   "sp-raw",
		RemoteStatus: RemoteStatusRejected,
		Status:       model.StatusRejected,
		Outcome:      model.OutcomeOrphan,
		Orphan:       true,
		Payload:      []byte(`{"actor":`),
	})
	require.NoError(t, err)
	require.True(t, inserted)

	_, err = tc.Service().SubmitForApproval(ctx, q.QuoteID)
	require.NoError(t, err)

	stored := tc.quote(t, q.QuoteID)
	assert.Equal(t, model.ApprovalRejected, stored.ApprovalStatus)
	assert.Empty(t, stored.RejectionReason)

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["event_id"] == "ev-raw" {
			warned = true
			assert.Equal(t, "sp-raw", entry.Data["instance_id"])
			assert.NotNil(t, entry.Data[logrus.ErrorKey])
		}
	}
	assert.True(t, warned, "unreadable orphan payload is logged")
}
