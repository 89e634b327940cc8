package quotedesk

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quotedesk/quotedesk/config"
	"github.com/quotedesk/quotedesk/internal/callback"
	"github.com/quotedesk/quotedesk/internal/remote"
	"github.com/quotedesk/quotedesk/model"
)

const (
	testCallbackToken = "QDToken"
	testCallbackKey   = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY"
	testCorpID        = "ww1"
)

type fakeRemote struct {
	mu         sync.Mutex
	seq        int
	nextIDs    []string
	submitErr  error
	decideErr  error
	decideResp *remote.DecisionResponse
	submits    []remote.Application
	decisions  []remote.DecisionRequest
}

func (f *fakeRemote) Submit(_ context.Context, app remote.Application) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, app)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if len(f.nextIDs) > 0 {
		id := f.nextIDs[0]
		f.nextIDs = f.nextIDs[1:]
		return id, nil
	}
	f.seq++
	return fmt.Sprintf("sp-%d", f.seq), nil
}

func (f *fakeRemote) Decide(_ context.Context, d remote.DecisionRequest) (*remote.DecisionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, d)
	if f.decideErr != nil {
		return nil, f.decideErr
	}
	if f.decideResp != nil {
		return f.decideResp, nil
	}
	return &remote.DecisionResponse{}, nil
}

func (f *fakeRemote) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func testConfiguration(externalEnabled bool) *config.Configuration {
	return &config.Configuration{
		ProjectName: "Quotedesk",
		External: config.ExternalConfig{
			Enabled:        externalEnabled,
			BaseURL:        "https://remote.test/cgi-bin",
			CorpID:         testCorpID,
			CorpSecret:     "s3cret",
			TemplateID:     "tpl-1",
			CreatorUserID:  "alice",
			CallbackToken:  testCallbackToken,
			CallbackAESKey: testCallbackKey,
		},
		Lock: config.LockConfig{SubmitLockSec: 30},
	}
}

type testCore struct {
	*Quotedesk
	ds      *memoryDatasource
	remote  *fakeRemote
	crypter *callback.Crypter
	alerts  []error
}

func newTestCore(t *testing.T, externalEnabled bool) *testCore {
	t.Helper()
	crypter, err := callback.NewCrypter(testCallbackToken, testCallbackKey, testCorpID)
	require.NoError(t, err)

	tc := &testCore{ds: newMemoryDatasource(), remote: &fakeRemote{}, crypter: crypter}
	tc.Quotedesk = New(tc.ds, testConfiguration(externalEnabled), Dependencies{
		Remote:   tc.remote,
		Verifier: crypter,
		Alert:    func(err error) { tc.alerts = append(tc.alerts, err) },
	})
	return tc
}

func (tc *testCore) newQuote(t *testing.T) *model.Quote {
	t.Helper()
	q, err := tc.CreateQuote(context.Background(), model.Quote{
		Number:      "Q-" + gofakeit.DigitN(6),
		Title:       gofakeit.Company() + " rollout",
		Amount:      decimal.NewFromFloat(gofakeit.Price(100, 10000)).Round(2),
		Currency:    "usd",
		Description: gofakeit.Sentence(8),
		RequesterID: gofakeit.Username(),
	})
	require.NoError(t, err)
	return &q
}

func (tc *testCore) quote(t *testing.T, id string) *model.Quote {
	t.Helper()
	q, err := tc.ds.GetQuoteByID(context.Background(), id)
	require.NoError(t, err)
	return q
}

func approvalXML(eventID, instanceID string, status int) []byte {
	return []byte(fmt.Sprintf(`<xml>
	<ToUserName><![CDATA[%s]]></ToUserName>
	<CreateTime>1714557600</CreateTime>
	<MsgType><![CDATA[event]]></MsgType>
	<Event><![CDATA[sys_approval_change]]></Event>
	<EventID>%s</EventID>
	<ApprovalInfo>
		<SpNo>%s</SpNo>
		<SpStatus>%d</SpStatus>
		<StatuChangeEvent>2</StatuChangeEvent>
		<SpRecord>
			<SpStatus>%d</SpStatus>
			<Details>
				<Approver><UserId><![CDATA[bob]]></UserId></Approver>
				<Speech><![CDATA[looks good]]></Speech>
				<SpStatus>%d</SpStatus>
			</Details>
		</SpRecord>
	</ApprovalInfo>
</xml>`, testCorpID, eventID, instanceID, status, status, status))
}

func (tc *testCore) signed(t *testing.T, msg []byte) SignedRequest {
	t.Helper()
	nonce := gofakeit.LetterN(10)
	body, sig, err := tc.crypter.EncryptMessage(msg, "1714557600", nonce)
	require.NoError(t, err)
	return SignedRequest{Signature: sig, Timestamp: "1714557600", Nonce: nonce, Body: body}
}
