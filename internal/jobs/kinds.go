// Package jobs defines the task kinds the relay knows about: their parameters,
// their result shapes, and the coordinator-side spec of each kind.
package jobs

import (
	"encoding/json"
	"github.com/relaydesk/taskrelay/types"
	"github.com/relaydesk/taskrelay/types/config"
)

func noApproval(json.RawMessage) bool { return false }

// Specs returns the KindSpec of every built-in kind.
func Specs() []config.KindSpec {
	return []config.KindSpec{
		{
			Kind:     types.KindCampaign,
			Validate: validateCampaign,
			ProgressKeys: []string{
				KeyTotal, KeyProcessed, KeySent, KeySkipped, KeyFailed,
				KeyAwaiting, KeyCheckpoint, KeyCurrentIndex,
			},
			RequiresApproval: campaignRequiresApproval,
		},
		{
			Kind:             types.KindDirectorySearch,
			Validate:         validateSearch,
			ProgressKeys:     []string{KeyFound, KeyPages, KeyProcessed},
			RequiresApproval: noApproval,
		},
		{
			Kind:             types.KindInbox,
			Validate:         validateInbox,
			ProgressKeys:     []string{KeyProcessed, KeyReplied, KeyFlagged, KeyFailed},
			RequiresApproval: noApproval,
		},
	}
}

// NewKindRegistry returns a registry holding every built-in kind.
func NewKindRegistry() *config.KindRegistry {
	reg := config.NewKindRegistry()
	for _, spec := range Specs() {
		// Specs are distinct by construction.
		_ = reg.Register(spec)
	}
	return reg
}
