package cosmosclient

import (
	"encoding/json"

	coretypes "github.com/cometbft/cometbft/rpc/core/types"
)

// encodeResultEvent extracts the attribute map from a CometBFT
// subscription result into the byte payload a TriggerData carries,
// since the ABCI event data itself is not portable across chain apps.
func encodeResultEvent(res coretypes.ResultEvent) ([]byte, error) {
	return json.Marshal(res.Events)
}
