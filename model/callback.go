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
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strings"
)

// CallbackEvent is a verified and decrypted approval change notification.
// It is also the payload of the queued ingestion task.
type CallbackEvent struct {
	EventID      string `json:"event_id"`
	InstanceID   string `json:"instance_id"`
	ThirdPartyNo string `json:"third_party_no,omitempty"`
	RemoteStatus int    `json:"remote_status"`
	ChangeEvent  int    `json:"change_event,omitempty"`
	Actor        string `json:"actor,omitempty"`
	Comment      string `json:"comment,omitempty"`
	CreateTime   int64  `json:"create_time"`
	Raw          []byte `json:"raw"`
}

// approvalChangeMessage is the decrypted body of a sys_approval_change callback.
type approvalChangeMessage struct {
	XMLName      xml.Name `xml:"xml"`
	EventID      string   `xml:"EventID"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      string   `xml:"MsgType"`
	Event        string   `xml:"Event"`
	ApprovalInfo struct {
		SpNo             string `xml:"SpNo"`
		SpStatus         int    `xml:"SpStatus"`
		ThirdNo          string `xml:"ThirdNo"`
		StatuChangeEvent int    `xml:"StatuChangeEvent"`
		SpRecord         []struct {
			SpStatus int `xml:"SpStatus"`
			Details  []struct {
				Approver struct {
					UserID string `xml:"UserId"`
				} `xml:"Approver"`
				Speech   string `xml:"Speech"`
				SpStatus int    `xml:"SpStatus"`
			} `xml:"Details"`
		} `xml:"SpRecord"`
	} `xml:"ApprovalInfo"`
}

// ParseCallbackEvent decodes a decrypted callback message.
func ParseCallbackEvent(plain []byte) (*CallbackEvent, error) {
	var msg approvalChangeMessage
	if err := xml.Unmarshal(plain, &msg); err != nil {
		return nil, fmt.Errorf("decode approval message: %w", err)
	}
	info := msg.ApprovalInfo
	if strings.TrimSpace(info.SpNo) == "" {
		return nil, fmt.Errorf("approval message has no instance id")
	}
	if info.SpStatus == 0 {
		return nil, fmt.Errorf("approval message %s has no status", info.SpNo)
	}

	event := &CallbackEvent{
		EventID:      strings.TrimSpace(msg.EventID),
		InstanceID:   strings.TrimSpace(info.SpNo),
		ThirdPartyNo: info.ThirdNo,
		RemoteStatus: info.SpStatus,
		ChangeEvent:  info.StatuChangeEvent,
		CreateTime:   msg.CreateTime,
		Raw:          plain,
	}

	// the last decided step carries the actor and their comment
	for _, record := range info.SpRecord {
		for _, detail := range record.Details {
			if detail.SpStatus > 1 && detail.Approver.UserID != "" {
				event.Actor = detail.Approver.UserID
				event.Comment = detail.Speech
			}
		}
	}

	if event.EventID == "" {
		event.EventID = DeriveEventID(event.InstanceID, event.RemoteStatus, event.ChangeEvent, event.CreateTime)
	}
	return event, nil
}

// DeriveEventID builds a stable identifier for senders that do not supply one,
// so a retransmitted callback maps to the same journal key.
func DeriveEventID(instanceID string, remoteStatus, changeEvent int, createTime int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%d", instanceID, remoteStatus, changeEvent, createTime)))
	return "evt_" + hex.EncodeToString(sum[:16])
}
