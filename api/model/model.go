/*
Copyright 2024 Quotedesk Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package model

import (
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/quotedesk/quotedesk/model"
)

var currencyCode = regexp.MustCompile(`^[A-Za-z]{3}$`)

type CreateQuote struct {
	Number      string          `json:"number"`
	Title       string          `json:"title"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	RequesterID string          `json:"requester_id"`
}

// ApproveQuote is the body of a manual approval.
type ApproveQuote struct {
	Actor   string `json:"actor"`
	Comment string `json:"comment"`
}

type RejectQuote struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func positiveAmount(value interface{}) error {
	amount, ok := value.(decimal.Decimal)
	if !ok {
		return errors.New("invalid amount type")
	}
	if !amount.IsPositive() {
		return errors.New("amount must be greater than zero")
	}
	return nil
}

func (q *CreateQuote) ValidateCreateQuote() error {
	return validation.ValidateStruct(q,
		validation.Field(&q.Number, validation.Required, validation.Length(1, 64)),
		validation.Field(&q.Title, validation.Required, validation.Length(1, 255)),
		validation.Field(&q.Amount, validation.By(positiveAmount)),
		validation.Field(&q.Currency, validation.Required, validation.Match(currencyCode).Error("must be a three letter currency code")),
	)
}

func (q *CreateQuote) ToQuote() model.Quote {
	return model.Quote{
		Number:      q.Number,
		Title:       q.Title,
		Amount:      q.Amount,
		Currency:    q.Currency,
		Description: q.Description,
		RequesterID: q.RequesterID,
	}
}

func (a *ApproveQuote) ValidateApproveQuote() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Actor, validation.Required),
	)
}

func (r *RejectQuote) ValidateRejectQuote() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Actor, validation.Required),
		validation.Field(&r.Reason, validation.Required, validation.Length(1, 1000)),
	)
}
