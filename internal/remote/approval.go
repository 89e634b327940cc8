package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Application is one approval request sent to the remote system.
type Application struct {
	CreatorUserID string
	TemplateID    string
	Title         string
	Amount        decimal.Decimal
	Currency      string
	Description   string
	ThirdPartyNo  string
}

type textValue struct {
	Text string `json:"text,omitempty"`
}

type moneyValue struct {
	NewMoney string `json:"new_money,omitempty"`
}

type control struct {
	Control string      `json:"control"`
	ID      string      `json:"id"`
	Value   interface{} `json:"value"`
}

type summaryLine struct {
	SummaryInfo []struct {
		Text string `json:"text"`
		Lang string `json:"lang"`
	} `json:"summary_info"`
}

type applyPayload struct {
	CreatorUserID       string `json:"creator_userid"`
	TemplateID          string `json:"template_id"`
	UseTemplateApprover int    `json:"use_template_approver"`
	ThirdNo             string `json:"third_no"`
	ApplyData           struct {
		Contents []control `json:"contents"`
	} `json:"apply_data"`
	SummaryList []summaryLine `json:"summary_list"`
}

type applyResponse struct {
	baseResponse
	SpNo string `json:"sp_no"`
}

func summary(text string) summaryLine {
	var line summaryLine
	line.SummaryInfo = append(line.SummaryInfo, struct {
		Text string `json:"text"`
		Lang string `json:"lang"`
	}{Text: text, Lang: "zh_CN"})
	return line
}

func buildApplyPayload(app Application) applyPayload {
	p := applyPayload{
		CreatorUserID:       app.CreatorUserID,
		TemplateID:          app.TemplateID,
		UseTemplateApprover: 1,
		ThirdNo:             app.ThirdPartyNo,
	}
	money := app.Amount.StringFixed(2)
	p.ApplyData.Contents = []control{
		{Control: "Text", ID: "Text-title", Value: textValue{Text: app.Title}},
		{Control: "Money", ID: "Money-amount", Value: moneyValue{NewMoney: money}},
		{Control: "Textarea", ID: "Textarea-description", Value: textValue{Text: app.Description}},
		{Control: "Text", ID: "Text-number", Value: textValue{Text: app.ThirdPartyNo}},
	}
	p.SummaryList = []summaryLine{
		summary(app.Title),
		summary(strings.TrimSpace(fmt.Sprintf("%s %s", money, app.Currency))),
		summary(app.ThirdPartyNo),
	}
	return p
}

// Submit creates a remote approval instance and returns its id.
func (c *Client) Submit(ctx context.Context, app Application) (string, error) {
	var resp applyResponse
	err := c.post(ctx, "/oa/applyevent", buildApplyPayload(app), &resp, func() baseResponse { return resp.baseResponse })
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.SpNo) == "" {
		return "", ErrNoInstance
	}
	return resp.SpNo, nil
}

// Decision values accepted by the decision endpoint.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

type DecisionRequest struct {
	InstanceID string `json:"sp_no"`
	Decision   string `json:"decision"`
	Operator   string `json:"operator_userid"`
	Comment    string `json:"speech,omitempty"`
}

// DecisionResponse is the remote answer to a decision. When Synchronous is
// set, Status is the instance state after the decision.
type DecisionResponse struct {
	baseResponse
	Status      int  `json:"sp_status"`
	Synchronous bool `json:"synchronous"`
}

// Decide forwards an approve or reject action for an existing instance.
func (c *Client) Decide(ctx context.Context, d DecisionRequest) (*DecisionResponse, error) {
	if d.Decision != DecisionApprove && d.Decision != DecisionReject {
		return nil, fmt.Errorf("unknown decision %q", d.Decision)
	}
	var resp DecisionResponse
	err := c.post(ctx, "/oa/approval/decision", d, &resp, func() baseResponse { return resp.baseResponse })
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
