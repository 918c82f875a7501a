package dispatch

import (
	"github.com/outofforest/zacp/wire"
)

// Action is the command known to the dispatcher.
type Action int

// Actions.
const (
	ActionInvalid Action = iota
	ActionHandshake
	ActionPing
	ActionShutdown
	ActionGoodbye
	ActionFindFeature
	ActionCreateFeature
	ActionReplaceFeature
	ActionDeleteFeature
	ActionGetFeatureNames
	ActionLoadFeatures
	ActionDumpFeatures
	ActionZoomTo
	ActionGetMark
	ActionRevComp
	ActionColumnShow
	ActionColumnHide
	ActionSelectFeature
	ActionNewView
	ActionAddToView
	ActionCloseView

	actionCount
)

// TargetRule defines whether features named by the request must exist in the live context.
type TargetRule int

// Target rules.
const (
	TargetDontCare TargetRule = iota
	TargetMust
	TargetMustNot
)

// Descriptor defines dispatch policy of an action.
type Descriptor struct {
	Action Action
	Name   string

	// Edit actions operate on a private copy of the feature context committed only on success.
	Edit bool

	// Features actions carry align/block/featureset/feature elements.
	Features bool

	Target TargetRule

	// MissingTarget is reported when TargetMust is violated.
	MissingTarget wire.ResultCode

	RequiredAttrs []string
}

var descriptors = [actionCount]Descriptor{
	ActionHandshake: {Name: "handshake"},
	ActionPing:      {Name: "ping"},
	ActionShutdown:  {Name: "shutdown"},
	ActionGoodbye:   {Name: "goodbye"},
	ActionFindFeature: {
		Name:     "find_feature",
		Features: true,
	},
	ActionCreateFeature: {
		Name:     "create_feature",
		Edit:     true,
		Features: true,
		Target:   TargetMustNot,
	},
	ActionReplaceFeature: {
		Name:          "replace_feature",
		Edit:          true,
		Features:      true,
		Target:        TargetMust,
		MissingTarget: wire.ResultFailed,
	},
	ActionDeleteFeature: {
		Name:          "delete_feature",
		Edit:          true,
		Features:      true,
		Target:        TargetMust,
		MissingTarget: wire.ResultFailed,
	},
	ActionGetFeatureNames: {
		Name:          "get_feature_names",
		Features:      true,
		RequiredAttrs: []string{"start", "end"},
	},
	ActionLoadFeatures: {
		Name:     "load_features",
		Edit:     true,
		Features: true,
	},
	ActionDumpFeatures: {Name: "dump_features"},
	ActionZoomTo: {
		Name:          "zoom_to",
		Features:      true,
		Target:        TargetMust,
		MissingTarget: wire.ResultBadRequest,
	},
	ActionGetMark: {Name: "get_mark"},
	ActionRevComp: {
		Name: "revcomp",
		Edit: true,
	},
	ActionColumnShow: {
		Name:     "column_show",
		Edit:     true,
		Features: true,
	},
	ActionColumnHide: {
		Name:     "column_hide",
		Edit:     true,
		Features: true,
	},
	ActionSelectFeature: {
		Name:          "select_feature",
		Features:      true,
		Target:        TargetMust,
		MissingTarget: wire.ResultBadRequest,
	},
	ActionNewView: {Name: "new_view"},
	ActionAddToView: {
		Name:          "add_to_view",
		RequiredAttrs: []string{"view_id"},
	},
	ActionCloseView: {
		Name:          "close_view",
		RequiredAttrs: []string{"view_id"},
	},
}

var actionsByName = func() map[string]Action {
	m := make(map[string]Action, len(descriptors))
	for i := range descriptors {
		if i == int(ActionInvalid) {
			continue
		}
		descriptors[i].Action = Action(i)
		m[descriptors[i].Name] = Action(i)
	}
	return m
}()

func (a Action) String() string {
	if a <= ActionInvalid || a >= actionCount {
		return "invalid"
	}
	return descriptors[a].Name
}

// Lookup returns descriptor of the action with the given name. Match is exact.
func Lookup(name string) (Descriptor, bool) {
	a, ok := actionsByName[name]
	if !ok {
		return Descriptor{}, false
	}
	return descriptors[a], true
}

// Describe returns descriptor of the action.
func Describe(a Action) Descriptor {
	if a <= ActionInvalid || a >= actionCount {
		return Descriptor{}
	}
	return descriptors[a]
}

// Descriptors returns descriptors of all the actions.
func Descriptors() []Descriptor {
	return append([]Descriptor{}, descriptors[ActionInvalid+1:]...)
}
