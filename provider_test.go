package quotedesk

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotedesk/quotedesk/config"
	"github.com/quotedesk/quotedesk/internal/remote"
	"github.com/quotedesk/quotedesk/model"
)

func TestInternalProvider_Lifecycle(t *testing.T) {
	tc := newTestCore(t, false)
	ctx := context.Background()
	p := NewInternalProvider(tc.Synchronizer())
	q := tc.newQuote(t)

	assert.True(t, p.IsAvailable())
	assert.Equal(t, model.ProviderInternal, p.Kind())

	_, err := p.Approve(ctx, q, "u1", "")
	assert.True(t, errors.Is(err, ErrConflict), "draft quotes cannot be approved")

	ref, err := p.Submit(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderInternal, ref.Provider)
	assert.Empty(t, ref.InstanceID)

	pending := tc.quote(t, q.QuoteID)
	_, err = p.Submit(ctx, pending)
	assert.True(t, errors.Is(err, ErrConflict), "pending quotes cannot be resubmitted")

	res, err := p.Reject(ctx, pending, "u2", "margin too low")
	require.NoError(t, err)
	assert.True(t, res.Confirmed)
	assert.Equal(t, model.StatusRejected, res.Status)

	rejected := tc.quote(t, q.QuoteID)
	assert.Equal(t, "margin too low", rejected.RejectionReason)

	// a rejected quote may start a new round
	_, err = p.Submit(ctx, rejected)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalPending, tc.quote(t, q.QuoteID).ApprovalStatus)
}

func TestInternalProvider_LogsDecision(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	tc := newTestCore(t, false)
	ctx := context.Background()
	p := NewInternalProvider(tc.Synchronizer())

	approved := tc.newQuote(t)
	_, err := p.Submit(ctx, approved)
	require.NoError(t, err)
	_, err = p.Approve(ctx, tc.quote(t, approved.QuoteID), "u1", "fits the budget")
	require.NoError(t, err)

	rejected := tc.newQuote(t)
	_, err = p.Submit(ctx, rejected)
	require.NoError(t, err)
	_, err = p.Reject(ctx, tc.quote(t, rejected.QuoteID), "u2", "margin too low")
	require.NoError(t, err)

	decisions := map[string]logrus.Fields{}
	for _, entry := range hook.AllEntries() {
		if entry.Message == "internal approval decision recorded" {
			decisions[entry.Data["quote_id"].(string)] = entry.Data
		}
	}
	require.Len(t, decisions, 2)
	assert.Equal(t, "u1", decisions[approved.QuoteID]["actor"])
	assert.Equal(t, "fits the budget", decisions[approved.QuoteID]["comment"])
	assert.Equal(t, model.StatusApproved, decisions[approved.QuoteID]["status"])
	assert.Equal(t, "u2", decisions[rejected.QuoteID]["actor"])
	assert.Equal(t, "margin too low", decisions[rejected.QuoteID]["comment"])
	assert.Equal(t, model.StatusRejected, decisions[rejected.QuoteID]["status"])
}

func TestExternalProvider_IsAvailable(t *testing.T) {
	tc := newTestCore(t, true)
	cfg := testConfiguration(true).External

	p := NewExternalProvider(cfg, tc.remote, tc.ds, tc.Synchronizer())
	assert.True(t, p.IsAvailable())

	p.SetEnabled(false)
	assert.False(t, p.IsAvailable())
	p.SetEnabled(true)
	assert.True(t, p.IsAvailable())

	missing := cfg
	missing.TemplateID = ""
	assert.False(t, NewExternalProvider(missing, tc.remote, tc.ds, tc.Synchronizer()).IsAvailable())

	assert.False(t, NewExternalProvider(cfg, nil, tc.ds, tc.Synchronizer()).IsAvailable())

	disabled := cfg
	disabled.Enabled = false
	assert.False(t, NewExternalProvider(disabled, tc.remote, tc.ds, tc.Synchronizer()).IsAvailable())
}

func TestExternalProvider_Submit(t *testing.T) {
	tc := newTestCore(t, true)
	ctx := context.Background()
	q := tc.newQuote(t)
	tc.remote.nextIDs = []string{"202405010001"}

	ref, err := tc.External().Submit(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderExternal, ref.Provider)
	assert.Equal(t, "202405010001", ref.InstanceID)
	assert.Equal(t, q.Number, ref.ThirdPartyNo)

	require.Len(t, tc.remote.submits, 1)
	app := tc.remote.submits[0]
	assert.Equal(t, q.Title, app.Title)
	assert.True(t, q.Amount.Equal(app.Amount))
	assert.Equal(t, q.Number, app.ThirdPartyNo)
	assert.Equal(t, "tpl-1", app.TemplateID)
	assert.Equal(t, "USD", app.Currency)

	mapping, err := tc.ds.GetMappingByInstanceID(ctx, "202405010001")
	require.NoError(t, err)
	assert.Equal(t, q.QuoteID, mapping.QuoteID)
	assert.Equal(t, model.StatusPending, mapping.Status)

	stored := tc.quote(t, q.QuoteID)
	assert.Equal(t, model.LifecyclePending, stored.Status)
	assert.Equal(t, model.ApprovalPending, stored.ApprovalStatus)
}

func TestExternalProvider_SubmitErrors(t *testing.T) {
	tests := []struct {
		name      string
		remoteErr error
		want      error
	}{
		{"unreachable", remote.ErrUnavailable, ErrRemoteUnavailable},
		{"rejected payload", remote.ErrRejected, ErrRemoteRejected},
		{"no instance id", remote.ErrNoInstance, ErrRemoteNoInstance},
		{"context deadline", context.DeadlineExceeded, ErrRemoteUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestCore(t, true)
			q := tc.newQuote(t)
			tc.remote.submitErr = tt.remoteErr

			_, err := tc.External().Submit(context.Background(), q)
			assert.True(t, errors.Is(err, tt.want))
			assert.True(t, errors.Is(err, tt.remoteErr))

			mappings, _ := tc.ds.ListMappingsByQuoteID(context.Background(), q.QuoteID)
			assert.Empty(t, mappings)
			assert.Equal(t, model.ApprovalNotSubmitted, tc.quote(t, q.QuoteID).ApprovalStatus)
		})
	}
}

func TestExternalProvider_SubmitLeavesNoMappingWhenQuoteWriteFails(t *testing.T) {
	tc := newTestCore(t, true)
	ctx := context.Background()
	q := tc.newQuote(t)
	tc.remote.nextIDs = []string{"sp-lost", "sp-retry"}
	tc.ds.failQuoteWrite = errors.New("connection reset")

	_, err := tc.External().Submit(ctx, q)
	require.Error(t, err)

	mappings, err := tc.ds.ListMappingsByQuoteID(ctx, q.QuoteID)
	require.NoError(t, err)
	assert.Empty(t, mappings)
	_, err = tc.ds.GetMappingByInstanceID(ctx, "sp-lost")
	assert.True(t, isNotFound(err))
	assert.Equal(t, model.ApprovalNotSubmitted, tc.quote(t, q.QuoteID).ApprovalStatus)

	// decisions still route internally and a retry starts a clean round
	_, err = tc.Service().Approve(ctx, q.QuoteID, "u1", "")
	assert.True(t, errors.Is(err, ErrConflict))

	tc.ds.failQuoteWrite = nil
	ref, err := tc.External().Submit(ctx, tc.quote(t, q.QuoteID))
	require.NoError(t, err)
	assert.Equal(t, "sp-retry", ref.InstanceID)
	mappings, err = tc.ds.ListMappingsByQuoteID(ctx, q.QuoteID)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "sp-retry", mappings[0].InstanceID)
}

func TestExternalProvider_SubmitDuplicateInstance(t *testing.T) {
	tc := newTestCore(t, true)
	ctx := context.Background()
	first, second := tc.newQuote(t), tc.newQuote(t)
	tc.remote.nextIDs = []string{"sp-dup", "sp-dup"}

	_, err := tc.External().Submit(ctx, first)
	require.NoError(t, err)

	_, err = tc.External().Submit(ctx, second)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Equal(t, model.ApprovalNotSubmitted, tc.quote(t, second.QuoteID).ApprovalStatus)

	mapping, err := tc.ds.GetMappingByInstanceID(ctx, "sp-dup")
	require.NoError(t, err)
	assert.Equal(t, first.QuoteID, mapping.QuoteID)
}

func TestExternalProvider_NotConfigured(t *testing.T) {
	tc := newTestCore(t, true)
	q := tc.newQuote(t)
	p := NewExternalProvider(config.ExternalConfig{Enabled: true}, tc.remote, tc.ds, tc.Synchronizer())

	_, err := p.Submit(context.Background(), q)
	assert.True(t, errors.Is(err, ErrConfiguration))
	_, err = p.Approve(context.Background(), q, "u1", "")
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Equal(t, 0, tc.remote.submitCount())
}

func TestExternalProvider_Decisions(t *testing.T) {
	ctx := context.Background()

	t.Run("asynchronous acknowledgement leaves the quote pending", func(t *testing.T) {
		tc := newTestCore(t, true)
		q := tc.newQuote(t)
		_, err := tc.External().Submit(ctx, q)
		require.NoError(t, err)

		res, err := tc.External().Approve(ctx, tc.quote(t, q.QuoteID), "bob", "fine")
		require.NoError(t, err)
		assert.False(t, res.Confirmed)
		assert.Equal(t, model.StatusPending, res.Status)
		assert.Equal(t, model.ApprovalPending, tc.quote(t, q.QuoteID).ApprovalStatus)

		require.Len(t, tc.remote.decisions, 1)
		assert.Equal(t, remote.DecisionApprove, tc.remote.decisions[0].Decision)
		assert.Equal(t, "bob", tc.remote.decisions[0].Operator)
	})

	t.Run("synchronous acknowledgement is applied", func(t *testing.T) {
		tc := newTestCore(t, true)
		q := tc.newQuote(t)
		ref, err := tc.External().Submit(ctx, q)
		require.NoError(t, err)
		tc.remote.decideResp = &remote.DecisionResponse{Status: RemoteStatusRejected, Synchronous: true}

		res, err := tc.External().Reject(ctx, tc.quote(t, q.QuoteID), "bob", "over budget")
		require.NoError(t, err)
		assert.True(t, res.Confirmed)
		assert.Equal(t, model.StatusRejected, res.Status)

		stored := tc.quote(t, q.QuoteID)
		assert.Equal(t, model.LifecycleRejected, stored.Status)
		assert.Equal(t, "over budget", stored.RejectionReason)

		mapping, _ := tc.ds.GetMappingByInstanceID(ctx, ref.InstanceID)
		assert.Equal(t, model.StatusRejected, mapping.Status)
	})

	t.Run("remote failure surfaces to the caller", func(t *testing.T) {
		tc := newTestCore(t, true)
		q := tc.newQuote(t)
		_, err := tc.External().Submit(ctx, q)
		require.NoError(t, err)
		tc.remote.decideErr = remote.ErrUnavailable

		_, err = tc.External().Approve(ctx, tc.quote(t, q.QuoteID), "bob", "")
		assert.True(t, errors.Is(err, ErrRemoteUnavailable))
		assert.Equal(t, model.ApprovalPending, tc.quote(t, q.QuoteID).ApprovalStatus)
	})
}
