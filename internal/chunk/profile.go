package chunk

import "github.com/devrecall/devrecall/internal/record"

// Profile holds the token budgets driving the splitter for one data type.
// All sizes are estimated tokens (see EstimateTokens).
type Profile struct {
	// TargetTokens is the preferred chunk size.
	TargetTokens int

	// OverlapTokens is how much trailing context each chunk repeats at the
	// start of its successor.
	OverlapTokens int

	// MinTokens is the floor below which a chunk is dropped or merged.
	MinTokens int

	// PreserveBlocks extracts fenced code and stack-trace blocks before
	// splitting so they are never cut mid-block.
	PreserveBlocks bool
}

// defaultProfiles maps each data type to its budgets. Conversational and
// narrative types get larger chunks with more overlap; dense structured types
// (configs, metrics, snapshots) get smaller chunks with little overlap since
// adjacent lines carry little shared context.
var defaultProfiles = map[record.DataType]Profile{
	record.TypeSession:        {TargetTokens: 512, OverlapTokens: 64, MinTokens: 48, PreserveBlocks: true},
	record.TypeCode:           {TargetTokens: 768, OverlapTokens: 96, MinTokens: 64, PreserveBlocks: true},
	record.TypeDeployment:     {TargetTokens: 384, OverlapTokens: 48, MinTokens: 32, PreserveBlocks: true},
	record.TypeLearning:       {TargetTokens: 512, OverlapTokens: 64, MinTokens: 48, PreserveBlocks: true},
	record.TypeError:          {TargetTokens: 640, OverlapTokens: 80, MinTokens: 48, PreserveBlocks: true},
	record.TypeConfig:         {TargetTokens: 384, OverlapTokens: 32, MinTokens: 32, PreserveBlocks: true},
	record.TypeSystemSnapshot: {TargetTokens: 256, OverlapTokens: 16, MinTokens: 24, PreserveBlocks: false},
	record.TypeMetric:         {TargetTokens: 256, OverlapTokens: 16, MinTokens: 24, PreserveBlocks: false},
	record.TypeGeneric:        {TargetTokens: 512, OverlapTokens: 64, MinTokens: 48, PreserveBlocks: true},
}

// mergePredecessorRatio: a trailing undersized chunk is merged into its
// predecessor only when the predecessor is below this share of the target.
const mergePredecessorRatio = 0.7

// ProfileFor returns the budgets for a data type, falling back to the generic
// profile for unknown types.
func ProfileFor(dt record.DataType) Profile {
	if p, ok := defaultProfiles[dt]; ok {
		return p
	}
	return defaultProfiles[record.TypeGeneric]
}
