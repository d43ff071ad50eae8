package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Progress keys shared by campaign reports.
const (
	KeyTotal        = "total"
	KeyProcessed    = "processed"
	KeySent         = "sent"
	KeySkipped      = "skipped"
	KeyFailed       = "failed"
	KeyAwaiting     = "awaiting"
	KeyCheckpoint   = "checkpoint"
	KeyCurrentIndex = "current_index"
	KeyItems        = "items"
)

// CampaignParams are the parameters of a campaign task.
type CampaignParams struct {
	CampaignID      string           `json:"campaign_id"`
	MessageTemplate string           `json:"message_template,omitempty"`
	ApprovalMode    bool             `json:"approval_mode"`
	Contacts        []map[string]any `json:"contacts"`
}

type ItemStatus string

const (
	ItemSent    ItemStatus = "sent"
	ItemSkipped ItemStatus = "skipped"
	ItemFailed  ItemStatus = "failed"
)

// ItemOutcome is the per-item entry of a campaign result.
type ItemOutcome struct {
	Index   int            `json:"index"`
	Status  ItemStatus     `json:"status"`
	Contact map[string]any `json:"contact,omitempty"`
	Message string         `json:"message,omitempty"`
	Edited  bool           `json:"edited,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

func ParseCampaignParams(raw json.RawMessage) (CampaignParams, error) {
	var p CampaignParams
	if len(raw) == 0 {
		return p, errors.New("campaign parameters are required")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode campaign parameters: %w", err)
	}
	return p, nil
}

func validateCampaign(raw json.RawMessage) error {
	p, err := ParseCampaignParams(raw)
	if err != nil {
		return err
	}
	if len(p.Contacts) == 0 {
		return errors.New("campaign needs at least one contact")
	}
	if !p.ApprovalMode && p.MessageTemplate == "" {
		return errors.New("campaign without approval mode needs a message template")
	}
	return nil
}

func campaignRequiresApproval(raw json.RawMessage) bool {
	p, err := ParseCampaignParams(raw)
	return err == nil && p.ApprovalMode
}
